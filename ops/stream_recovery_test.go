package ops

import (
	"errors"
	"testing"
	"time"
)

func TestStreamRecoveryManager_StartSession(t *testing.T) {
	m := NewStreamRecoveryManager(nil)
	defer m.Close()

	id := GenerateSessionId("openai", "gpt-4o")
	session := m.StartSession(id, "openai", "gpt-4o")

	if session.Id != id {
		t.Errorf("Id = %s, want %s", session.Id, id)
	}
	if session.Status != StreamSessionActive {
		t.Errorf("Status = %s, want active", session.Status)
	}
}

func TestStreamRecoveryManager_RecordChunk(t *testing.T) {
	m := NewStreamRecoveryManager(nil)
	defer m.Close()

	id := GenerateSessionId("openai", "gpt-4o")
	m.StartSession(id, "openai", "gpt-4o")

	m.RecordChunk(id, "hello ", 1)
	m.RecordChunk(id, "world", 1)

	content, tokens := m.GetPartialContent(id)
	if content != "hello world" {
		t.Errorf("content = %q, want %q", content, "hello world")
	}
	if tokens != 2 {
		t.Errorf("tokens = %d, want 2", tokens)
	}
}

func TestStreamRecoveryManager_Checkpoints(t *testing.T) {
	config := &StreamRecoveryConfig{
		MaxSessions:        10,
		SessionTimeout:     30 * time.Minute,
		CheckpointInterval: 2,
		MaxCheckpoints:     5,
	}
	m := NewStreamRecoveryManager(config)
	defer m.Close()

	id := GenerateSessionId("openai", "gpt-4o")
	m.StartSession(id, "openai", "gpt-4o")

	m.RecordChunk(id, "a", 1)
	m.RecordChunk(id, "b", 1)

	checkpoint := m.GetLastCheckpoint(id)
	if checkpoint == nil {
		t.Fatal("expected a checkpoint after crossing the interval")
	}
	if checkpoint.TokenCount != 2 {
		t.Errorf("checkpoint TokenCount = %d, want 2", checkpoint.TokenCount)
	}
	if checkpoint.ContentHash == "" {
		t.Error("checkpoint should carry a content hash")
	}
}

func TestStreamRecoveryManager_EndSession(t *testing.T) {
	m := NewStreamRecoveryManager(nil)
	defer m.Close()

	id := GenerateSessionId("openai", "gpt-4o")
	m.StartSession(id, "openai", "gpt-4o")
	m.RecordChunk(id, "partial", 1)

	ended := m.EndSession(id, StreamSessionInterrupted, "connection_reset")
	if ended == nil {
		t.Fatal("expected ended session")
	}
	if ended.Status != StreamSessionInterrupted {
		t.Errorf("Status = %s, want interrupted", ended.Status)
	}
	if ended.EndedAt == nil {
		t.Error("EndedAt should be set")
	}

	if m.GetSession(id) != nil {
		t.Error("session should be removed from active tracking after ending")
	}
}

func TestStreamRecoveryManager_EndSessionWithError(t *testing.T) {
	m := NewStreamRecoveryManager(nil)
	defer m.Close()

	id := GenerateSessionId("openai", "gpt-4o")
	m.StartSession(id, "openai", "gpt-4o")

	ended := m.EndSessionWithError(id, errors.New("stream reset by peer"))
	if ended.Status != StreamSessionFailed {
		t.Errorf("Status = %s, want failed", ended.Status)
	}
	if ended.FinalError == "" {
		t.Error("FinalError should be recorded")
	}
}

func TestStreamRecoveryManager_GetRecoveryInfo(t *testing.T) {
	m := NewStreamRecoveryManager(nil)
	defer m.Close()

	id := GenerateSessionId("openai", "gpt-4o")
	m.StartSession(id, "openai", "gpt-4o")
	m.RecordChunk(id, "partial output", 3)

	info := m.GetRecoveryInfo(id)
	if info == nil {
		t.Fatal("expected recovery info")
	}
	if info.PartialContent != "partial output" {
		t.Errorf("PartialContent = %q", info.PartialContent)
	}
	if !info.CanResume {
		t.Error("continuation should be able to resume from accepted partial content")
	}

	emptyId := GenerateSessionId("openai", "gpt-4o")
	m.StartSession(emptyId, "openai", "gpt-4o")
	emptyInfo := m.GetRecoveryInfo(emptyId)
	if emptyInfo.CanResume {
		t.Error("a session with no accepted content should not be resumable")
	}
}

func TestStreamRecoveryManager_GetActiveSessions(t *testing.T) {
	m := NewStreamRecoveryManager(nil)
	defer m.Close()

	id1 := GenerateSessionId("openai", "gpt-4o")
	id2 := GenerateSessionId("anthropic", "claude-3")
	m.StartSession(id1, "openai", "gpt-4o")
	m.StartSession(id2, "anthropic", "claude-3")
	m.EndSession(id2, StreamSessionCompleted, "done")

	active := m.GetActiveSessions()
	if len(active) != 1 || active[0] != id1 {
		t.Errorf("active sessions = %v, want [%s]", active, id1)
	}
}

func TestStreamRecoveryManager_PruneOldestAtCapacity(t *testing.T) {
	config := &StreamRecoveryConfig{
		MaxSessions:        2,
		SessionTimeout:     30 * time.Minute,
		CheckpointInterval: 1000,
		MaxCheckpoints:     5,
	}
	m := NewStreamRecoveryManager(config)
	defer m.Close()

	id1 := GenerateSessionId("openai", "gpt-4o")
	id2 := GenerateSessionId("openai", "gpt-4o")
	id3 := GenerateSessionId("openai", "gpt-4o")

	m.StartSession(id1, "openai", "gpt-4o")
	m.StartSession(id2, "openai", "gpt-4o")
	m.StartSession(id3, "openai", "gpt-4o")

	if len(m.GetActiveSessions()) != 2 {
		t.Errorf("expected pruning to cap at MaxSessions=2, got %d", len(m.GetActiveSessions()))
	}
}

func TestStreamRecoveryManager_Stats(t *testing.T) {
	m := NewStreamRecoveryManager(nil)
	defer m.Close()

	id1 := GenerateSessionId("openai", "gpt-4o")
	id2 := GenerateSessionId("anthropic", "claude-3")
	m.StartSession(id1, "openai", "gpt-4o")
	m.StartSession(id2, "anthropic", "claude-3")
	m.RecordChunk(id1, "hi", 1)

	stats := m.GetStats()
	if stats.ActiveSessions != 2 {
		t.Errorf("ActiveSessions = %d, want 2", stats.ActiveSessions)
	}
	if stats.SessionsByProvider["openai"] != 1 {
		t.Errorf("SessionsByProvider[openai] = %d, want 1", stats.SessionsByProvider["openai"])
	}
	if stats.TotalTokens != 1 {
		t.Errorf("TotalTokens = %d, want 1", stats.TotalTokens)
	}
}

func TestStreamRecoveryManager_SessionEndCallback(t *testing.T) {
	m := NewStreamRecoveryManager(nil)
	defer m.Close()

	called := false
	var capturedStatus StreamSessionStatus
	m.SetSessionEndCallback(func(session *StreamSession) {
		called = true
		capturedStatus = session.Status
	})

	id := GenerateSessionId("openai", "gpt-4o")
	m.StartSession(id, "openai", "gpt-4o")
	m.EndSession(id, StreamSessionCompleted, "done")

	time.Sleep(10 * time.Millisecond)

	if !called {
		t.Error("callback should have been invoked")
	}
	if capturedStatus != StreamSessionCompleted {
		t.Errorf("captured status = %s, want completed", capturedStatus)
	}
}
