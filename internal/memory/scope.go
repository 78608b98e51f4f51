package memory

// Scope is the two-level addressing key under which conversation
// state and working memory persist: one resource per user, one thread
// per conversation.
type Scope struct {
	ResourceID string
	ThreadID   string
	Metadata   map[string]string
}

// ResolveScope derives a stable scope from chat platform identifiers.
//
// The resource id depends only on the user; the thread id combines the
// chat and the conversation root so every turn of one thread lands in
// the same scope. Surfaces without a meaningful root pass a stable
// override instead, which keeps unrelated single messages from
// fragmenting into isolated one-message memories.
func ResolveScope(userID, chatID, rootID, override string) Scope {
	threadID := override
	if threadID == "" {
		if rootID != "" {
			threadID = chatID + ":" + rootID
		} else {
			threadID = chatID
		}
	}
	return Scope{
		ResourceID: "user:" + userID,
		ThreadID:   threadID,
		Metadata: map[string]string{
			"chat_id": chatID,
			"root_id": rootID,
		},
	}
}
