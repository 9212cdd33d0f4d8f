// Package ratelimit provides the per-user sliding-window admission control
// that sits in front of upstream tool execution.
//
// Each user has an independent window of admission timestamps. A request is
// admitted when fewer than Limit timestamps fall inside the trailing Window;
// admission trims the window, checks the count and records the new timestamp
// as a single step under that user's lock. Rejected requests are not
// recorded. All tools share one budget per user.
//
// SlidingWindow keeps windows in process memory. RedisLimiter keeps them in a
// Redis sorted set so several gateway replicas share one budget per user.
package ratelimit
