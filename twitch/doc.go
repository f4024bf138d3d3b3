// Package twitch contains the Twitch transport: an IRC chat source feeding
// the message pipeline and engagement tracker, and a Helix client used as the
// enforcement channel (timeouts, bans, unbans via /helix/moderation/bans).
//
// Credentials: the IRC client requires a bot username and a user OAuth token
// with chat:read/chat:edit scopes. Helix moderation calls use an app access
// token (client credentials) plus the moderator's user id; the app token
// CANNOT be used for IRC chat.
package twitch
