// Package apiclient wraps outbound API calls with thread-context tagging.
//
// Before every call it reads the current session's identifiers from the
// session store and attaches them: merged into the body for mutating verbs,
// into query parameters for read verbs, and mirrored into X-*-ID headers
// for every verb. A missing session never blocks a request — tagging is
// best-effort metadata.
//
// The compound helpers (RunWorkflow, SearchProductsForItem) resolve or
// create the needed threads, consult the dedup service before launching,
// and register returned items as item threads, keeping the client tree
// consistent with backend checkpoints.
package apiclient
