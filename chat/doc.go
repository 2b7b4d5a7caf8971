// Package chat connects to Twitch chat for the configured channel.
//
// The Bot serves two purposes:
//   - an admin surface: the channel's broadcaster and moderators manage the
//     tracked set with !addstreamer <login> [message...], !removestreamer
//     <login> and !liststreamers. Permission comes from the Twitch badges on
//     the message, so no separate user list is kept.
//   - an announcement sink: Announcer posts each live announcement to the
//     channel as a single line.
//
// Credentials: the IRC client requires a bot username and an OAuth token with
// chat:read/chat:edit scopes. The "oauth:" prefix is added when missing.
package chat
