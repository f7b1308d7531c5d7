// Package uistate implements the durable per-agent UI state store: a local
// sqlite database merged with the server-held blob, local values taking
// precedence except for the sidebar-settings sub-object which is always
// sourced from the server copy.
package uistate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/francetechnologie-boop/livechat-app-sub007/internal/debug"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/logging"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/metrics"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/client"
)

// Well-known blob keys.
const (
	KeyLastActiveTab   = "last_active_tab"
	KeySelectedEntity  = "selected_entity"
	KeyPredictedTab    = "predicted_tab" // one-shot, captured before boot completes
	KeySidebarSettings = "sidebar_settings"
	ScrollKeyPrefix    = "scroll:" // per-tab scroll offsets, ScrollKeyPrefix + tab id
	ModuleKeyPrefix    = "module:" // per-module sub-state, ModuleKeyPrefix + module id
)

const schema = `
CREATE TABLE IF NOT EXISTS ui_state (
	agent_id   TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (agent_id, key)
);
`

// Store is the per-agent UI state store.
type Store struct {
	db       *sql.DB
	client   *client.Client
	reporter debug.Reporter

	mu      sync.Mutex
	pending map[string]map[string]interface{} // agent id -> unsent patch
}

// Open opens (creating if needed) the local database at path.
func Open(path string, c *client.Client, reporter debug.Reporter) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ui state db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ui state schema: %w", err)
	}
	return &Store{
		db:       db,
		client:   c,
		reporter: reporter,
		pending:  make(map[string]map[string]interface{}),
	}, nil
}

// Close closes the local database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the merged blob for an agent: the server copy overlaid with
// local values, except sidebar settings which come from the server only. A
// server failure degrades to the local blob alone.
func (s *Store) Load(ctx context.Context, agentID string) map[string]interface{} {
	local := s.loadLocal(agentID)

	server, err := s.client.FetchUIState(ctx, agentID)
	if err != nil {
		logging.Warn("server ui state unavailable, using local only",
			logging.String("agent_id", agentID), logging.Err(err))
		delete(local, KeySidebarSettings)
		return local
	}

	merged := make(map[string]interface{}, len(server)+len(local))
	for k, v := range server {
		merged[k] = v
	}
	for k, v := range local {
		if k == KeySidebarSettings {
			continue
		}
		merged[k] = v
	}
	if v, ok := server[KeySidebarSettings]; ok {
		merged[KeySidebarSettings] = v
	} else {
		delete(merged, KeySidebarSettings)
	}
	return merged
}

func (s *Store) loadLocal(agentID string) map[string]interface{} {
	blob := make(map[string]interface{})
	rows, err := s.db.Query(`SELECT key, value FROM ui_state WHERE agent_id = ?`, agentID)
	if err != nil {
		logging.Warn("local ui state read failed", logging.Err(err))
		return blob
	}
	defer rows.Close()

	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			continue
		}
		var value interface{}
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			continue
		}
		blob[key] = value
	}
	return blob
}

// Save shallow-merges patch into the agent's local blob and queues it for
// the next server flush. Save never returns or propagates an error: it is
// called from interaction handlers where a failure must not break the
// interaction. Storage failures are swallowed, logged and reported to the
// debug collector.
func (s *Store) Save(agentID string, patch map[string]interface{}) {
	if len(patch) == 0 {
		return
	}

	now := time.Now().Unix()
	for key, value := range patch {
		raw, err := json.Marshal(value)
		if err != nil {
			metrics.RecordUIStateSwallowed()
			s.reporter.Capture("uistate", "serialize "+key, err)
			continue
		}
		_, err = s.db.Exec(
			`INSERT INTO ui_state (agent_id, key, value, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(agent_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			agentID, key, string(raw), now)
		if err != nil {
			metrics.RecordUIStateSwallowed()
			s.reporter.Capture("uistate", "write "+key, err)
		}
	}

	s.mu.Lock()
	queue := s.pending[agentID]
	if queue == nil {
		queue = make(map[string]interface{})
		s.pending[agentID] = queue
	}
	for key, value := range patch {
		queue[key] = value
	}
	s.mu.Unlock()
}

// SaveOne is a convenience for a single-key patch.
func (s *Store) SaveOne(agentID, key string, value interface{}) {
	s.Save(agentID, map[string]interface{}{key: value})
}

// FlushNow pushes the agent's pending patch to the server immediately.
// Used on logout and before navigating away.
func (s *Store) FlushNow(ctx context.Context, agentID string) error {
	s.mu.Lock()
	patch := s.pending[agentID]
	delete(s.pending, agentID)
	s.mu.Unlock()

	if len(patch) == 0 {
		return nil
	}

	// The server owns sidebar settings; never push a local copy at it.
	delete(patch, KeySidebarSettings)

	if err := s.client.PutUIState(ctx, agentID, patch); err != nil {
		metrics.RecordUIStateFlush("error")
		// Requeue so a later flush can retry.
		s.mu.Lock()
		queue := s.pending[agentID]
		if queue == nil {
			queue = make(map[string]interface{})
			s.pending[agentID] = queue
		}
		for key, value := range patch {
			if _, newer := queue[key]; !newer {
				queue[key] = value
			}
		}
		s.mu.Unlock()
		return fmt.Errorf("flush ui state: %w", err)
	}

	metrics.RecordUIStateFlush("ok")
	return nil
}

// TakePredictedTab reads and clears the one-shot predicted initial tab.
func (s *Store) TakePredictedTab(agentID string) string {
	local := s.loadLocal(agentID)
	predicted, _ := local[KeyPredictedTab].(string)
	if predicted != "" {
		_, err := s.db.Exec(`DELETE FROM ui_state WHERE agent_id = ? AND key = ?`, agentID, KeyPredictedTab)
		if err != nil {
			logging.Warn("clear predicted tab failed", logging.Err(err))
		}
	}
	return predicted
}
