// Package seed loads key/value seed files into Cascade.
//
// A seed file is a YAML (or JSON) mapping of context keys to arbitrary
// values:
//
//	theme: dark
//	user.name: Alice
//	feature.flags:
//	  beta: true
//	  rollout: 25
//
// Values are converted to JSON so they can be stored and streamed without
// further interpretation. [Watch] reloads the file whenever it changes and
// [Diff] reports which keys need to be re-applied. Removing a key from the
// file has no effect: context keys are never deleted.
package seed
