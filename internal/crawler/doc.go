// Package crawler holds the shared vocabulary of the email discovery pipeline:
// job records and their status machine, the task dispatch payload, fetch
// request/response shapes, the FetchError taxonomy, the insertion-ordered
// EmailSet, and the small interfaces (stores, queue, fetcher, clock) that the
// worker, API, and storage packages implement or consume.
package crawler
