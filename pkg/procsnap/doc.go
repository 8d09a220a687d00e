// Package procsnap produces snapshots of the processes running on the
// host OS. The plugin registry offers these snapshots to positional
// plugins so they can find the game process they support.
//
// Basic usage:
//
//	resolver := procsnap.NewSystemResolver()
//	entries, err := resolver.Snapshot(ctx)
//
// Arbitration can run several times in quick succession; wrap the
// system resolver in a caching resolver to bound enumeration cost:
//
//	cached := procsnap.NewCachingResolver(resolver, time.Second)
package procsnap
