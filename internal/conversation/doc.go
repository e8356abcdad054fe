// Package conversation implements the chat screens' client logic.
//
// # Overview
//
// Two clients cover the conversation subsystem:
//
//   - ListClient fetches the authenticated user's conversations and
//     normalizes the heterogeneous server shapes (explicit otherUser vs a
//     members array) into uniform display summaries.
//   - DetailClient owns one conversation: it resolves the conversation id
//     (idempotent get-or-create), loads history, joins the realtime room,
//     and merges three message sources into a single ordered list.
//
// # Reconciliation
//
// Messages reach a DetailClient from three writers: the initial history
// fetch, optimistic local sends, and realtime pushes. The Reconciler keeps
// the in-memory list duplicate-free under any arrival order:
//
//   - A local send appends a Pending placeholder with a temporary id before
//     any network round-trip.
//   - The send response replaces the placeholder in place, matched by
//     temporary id.
//   - A realtime event replaces an entry on exact id match, else replaces a
//     Pending placeholder matching sender and text (the echo arrived before
//     the send response), else appends.
//
// No ordering guarantee exists between the REST response and the realtime
// echo for the same logical message; both orders must converge to the same
// list. A seen-id cache guards the late-response path.
package conversation
