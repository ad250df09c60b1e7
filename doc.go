// Package pagecache implements a tiered cache for a page-rendering server.
//
// CacheHandler presents a single cache on top of an ordered list of handlers (backing stores).
// Handlers are provided once by a creation hook on first use.
//
// Features:
//
//   - Strict tier priority: the first handler that answers without error wins, even with a miss,
//     lower priority handlers are only consulted when higher ones fail.
//   - Lifespan with stale and expire ages, expired entries are evicted from handlers on read.
//   - Writes and tag revalidations are fanned out to all handlers concurrently,
//     failure of one handler does not affect others.
//   - Route bodies are stored as base64 text, page tags are derived from page headers.
//   - Statically generated routes without fallback are persisted to disk and restored to handlers after restart.
//   - Race-free one time configuration shared by concurrent callers.
//   - Allows logging, stats collection.
package pagecache
