package sessions

// Key builds a session_id from a (channel, chat_id) pair: "{channel}_{chat_id}"
// per spec §3 — one session per conversation, no multi-agent/multi-tenant
// scoping.
func Key(channel, chatID string) string {
	return channel + "_" + chatID
}
