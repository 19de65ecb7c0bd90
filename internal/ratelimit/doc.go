// ABOUTME: Package documentation for rate limiting
// ABOUTME: Describes the sliding-window algorithm and dual-limiter usage

// Package ratelimit admits requests under a sliding-window quota.
//
// Each identifier owns an ordered list of admission instants; a request is
// admitted iff fewer than quota instants remain inside the trailing window.
// Rejections carry a retry-after hint: the time until the oldest retained
// instant slides out. The gateway composes two limiters, per network
// address and per credential, and requires both to admit.
package ratelimit
