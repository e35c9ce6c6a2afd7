package domain

// SourceTag labels memories that came from the social platform.
const SourceTag = "twitter"

// MemoryFromPost projects a platform post into its LocalMemory. Posts written by
// the agent's own account are attributed to the agent.
func MemoryFromPost(p Post, agentID, selfID string) LocalMemory {
	userID := UserID(p.AuthorID)
	if selfID != "" && p.AuthorID == selfID {
		userID = agentID
	}
	var inReplyTo string
	if p.ParentID != "" {
		inReplyTo = LocalID(p.ParentID, agentID)
	}
	return LocalMemory{
		ID:      LocalID(p.ID, agentID),
		AgentID: agentID,
		UserID:  userID,
		RoomID:  RoomID(p.ConversationID, agentID),
		Content: Content{
			Text:      p.Text,
			Source:    SourceTag,
			URL:       p.URL,
			InReplyTo: inReplyTo,
		},
		CreatedAt: p.CreatedAt,
	}
}

// ConnectionForPost describes the author of p as a member of its room.
func ConnectionForPost(p Post, agentID string) Connection {
	return Connection{
		UserID:      UserID(p.AuthorID),
		RoomID:      RoomID(p.ConversationID, agentID),
		Handle:      p.AuthorHandle,
		DisplayName: p.AuthorName,
		Source:      SourceTag,
	}
}
