// Package poll repeatedly invokes a fetch operation until a termination
// condition holds, waiting between attempts according to an interval
// schedule that backs off as the session grows longer.
//
// A session is strictly sequential: the next fetch starts only after the
// previous result has been evaluated. Every session is bounded by a Ceiling
// (attempt count, elapsed time, or both), and a fetch error aborts the
// session instead of being retried.
package poll
