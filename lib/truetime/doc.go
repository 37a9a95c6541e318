// Package truetime answers "what time is it really" from a network
// estimate kept in an offset cache.
//
// QueryServers asks several SNTP servers at once. Each resolved address is
// queried Repeat times and contributes its lowest-delay sample. The samples
// are combined into a running median that is written to the cache every
// time it changes, so a partial answer is usable as soon as the first
// server replies. Now and NowMillis then read the cache without touching
// the network until the cache reports the sample stale.
//
// Syncer keeps the cache fresh in the background.
package truetime
