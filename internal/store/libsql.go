package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/dripline/dripline/internal/lead"
	"github.com/dripline/dripline/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Definitions ---

func (s *LibSQLStore) CreateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error {
	nodes, edges, err := marshalGraph(def)
	if err != nil {
		return err
	}
	if def.Version == 0 {
		def.Version = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_definitions (id, org_id, name, industry, is_active, version, nodes, edges, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID, def.OrgID, def.Name, nullStr(def.Industry), boolInt(def.IsActive), def.Version,
		nodes, edges, timeOrNow(def.CreatedAt), timeOrNow(def.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetDefinition(ctx context.Context, orgID, id string) (*schema.WorkflowDefinition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, name, industry, is_active, version, nodes, edges, created_at, updated_at
		 FROM workflow_definitions WHERE id = ? AND org_id = ?`, id, orgID)
	def, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow definition", id)
	}
	return def, err
}

// UpdateDefinition replaces the graph of an inactive definition and bumps its
// version. Active definitions may be referenced by running executions and are
// immutable; deactivate first.
func (s *LibSQLStore) UpdateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error {
	nodes, edges, err := marshalGraph(def)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_definitions
		 SET name = ?, industry = ?, nodes = ?, edges = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND org_id = ? AND is_active = 0`,
		def.Name, nullStr(def.Industry), nodes, edges, def.ID, def.OrgID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "inactive workflow definition", def.ID)
}

func (s *LibSQLStore) SetDefinitionActive(ctx context.Context, orgID, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_definitions SET is_active = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND org_id = ?`,
		boolInt(active), id, orgID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow definition", id)
}

func (s *LibSQLStore) ListDefinitions(ctx context.Context, orgID string) ([]*schema.WorkflowDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, name, industry, is_active, version, nodes, edges, created_at, updated_at
		 FROM workflow_definitions WHERE org_id = ? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*schema.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*schema.WorkflowDefinition, error) {
	def := &schema.WorkflowDefinition{}
	var industry sql.NullString
	var active int
	var nodesJSON, edgesJSON string
	err := row.Scan(&def.ID, &def.OrgID, &def.Name, &industry, &active, &def.Version,
		&nodesJSON, &edgesJSON, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return nil, err
	}
	def.Industry = industry.String
	def.IsActive = active != 0
	if err := json.Unmarshal([]byte(nodesJSON), &def.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(edgesJSON), &def.Edges); err != nil {
		return nil, fmt.Errorf("unmarshal edges: %w", err)
	}
	return def, nil
}

func marshalGraph(def *schema.WorkflowDefinition) (string, string, error) {
	nodes, err := json.Marshal(def.Nodes)
	if err != nil {
		return "", "", fmt.Errorf("marshal nodes: %w", err)
	}
	edges, err := json.Marshal(def.Edges)
	if err != nil {
		return "", "", fmt.Errorf("marshal edges: %w", err)
	}
	return string(nodes), string(edges), nil
}

// --- Executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, ex *Execution) error {
	if ex.Version == 0 {
		ex.Version = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_executions (id, org_id, workflow_definition_id, lead_id, conversation_id, status, current_node_id, resume_at, last_error, attempts, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.OrgID, ex.DefinitionID, ex.LeadID, nullStr(ex.ConversationID),
		string(ex.Status), ex.CurrentNodeID, nullTime(ex.ResumeAt), nullStr(ex.LastError),
		ex.Attempts, ex.Version, timeOrNow(ex.CreatedAt), timeOrNow(ex.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetExecution(ctx context.Context, orgID, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, workflow_definition_id, lead_id, conversation_id, status, current_node_id, resume_at, last_error, attempts, version, created_at, updated_at
		 FROM workflow_executions WHERE id = ? AND org_id = ?`, id, orgID)
	ex, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	return ex, err
}

// UpdateExecutionCAS writes the update conditioned on the version column still
// holding expectedVersion, incrementing it on success. Zero matched rows means
// a concurrent writer won; the caller's intent is superseded and not retried.
func (s *LibSQLStore) UpdateExecutionCAS(ctx context.Context, orgID, id string, expectedVersion int64, update ExecutionUpdate) error {
	sets := []string{"version = version + 1", "updated_at = CURRENT_TIMESTAMP"}
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.CurrentNodeID != nil {
		sets = append(sets, "current_node_id = ?")
		args = append(args, *update.CurrentNodeID)
	}
	if update.ResumeAt != nil {
		sets = append(sets, "resume_at = ?")
		args = append(args, *update.ResumeAt)
	}
	if update.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *update.LastError)
	}
	if update.BumpAttempts {
		sets = append(sets, "attempts = attempts + 1")
	}

	args = append(args, id, orgID, expectedVersion)
	query := fmt.Sprintf(
		`UPDATE workflow_executions SET %s WHERE id = ? AND org_id = ? AND version = ?`,
		strings.Join(sets, ", "))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schema.NewErrorf(schema.ErrCodeConcurrentModification,
			"execution %q version %d was modified by a concurrent writer", id, expectedVersion).
			WithDetails(map[string]any{"execution_id": id, "expected_version": expectedVersion})
	}
	return nil
}

func (s *LibSQLStore) ListRunningByConversation(ctx context.Context, orgID, conversationID string) ([]*Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, workflow_definition_id, lead_id, conversation_id, status, current_node_id, resume_at, last_error, attempts, version, created_at, updated_at
		 FROM workflow_executions WHERE org_id = ? AND conversation_id = ? AND status = ?`,
		orgID, conversationID, string(schema.ExecutionStatusRunning))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		ex, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, ex)
	}
	return executions, rows.Err()
}

func scanExecution(row rowScanner) (*Execution, error) {
	ex := &Execution{}
	var conversationID, lastError sql.NullString
	var resumeAt sql.NullTime
	var status string
	err := row.Scan(&ex.ID, &ex.OrgID, &ex.DefinitionID, &ex.LeadID, &conversationID,
		&status, &ex.CurrentNodeID, &resumeAt, &lastError, &ex.Attempts, &ex.Version,
		&ex.CreatedAt, &ex.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ex.ConversationID = conversationID.String
	ex.LastError = lastError.String
	ex.Status = schema.ExecutionStatus(status)
	if resumeAt.Valid {
		ex.ResumeAt = &resumeAt.Time
	}
	return ex, nil
}

// --- Step log ---

func (s *LibSQLStore) AppendStep(ctx context.Context, step *StepRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_steps (workflow_execution_id, org_id, node_id, node_type, status, branch, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ExecutionID, step.OrgID, step.NodeID, string(step.NodeType),
		string(step.Status), nullStr(step.Branch), nullStr(step.Error), timeOrNow(step.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) ListSteps(ctx context.Context, executionID string) ([]*StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_execution_id, org_id, node_id, node_type, status, branch, error, created_at
		 FROM workflow_steps WHERE workflow_execution_id = ? ORDER BY id ASC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*StepRecord
	for rows.Next() {
		st := &StepRecord{}
		var branch, stepErr sql.NullString
		var nodeType, status string
		if err := rows.Scan(&st.ID, &st.ExecutionID, &st.OrgID, &st.NodeID, &nodeType,
			&status, &branch, &stepErr, &st.CreatedAt); err != nil {
			return nil, err
		}
		st.NodeType = schema.NodeType(nodeType)
		st.Status = schema.StepStatus(status)
		st.Branch = branch.String
		st.Error = stepErr.String
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// --- Delayed jobs ---

func (s *LibSQLStore) CreateDelayedJob(ctx context.Context, job *DelayedJob) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delayed_jobs (id, execution_id, org_id, node_id, run_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.ExecutionID, job.OrgID, job.NodeID, job.RunAt.UTC(), timeOrNow(job.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) ListDueDelayedJobs(ctx context.Context, now time.Time, limit int) ([]*DelayedJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, org_id, node_id, run_at, fired_at, created_at
		 FROM delayed_jobs WHERE fired_at IS NULL AND run_at <= ? ORDER BY run_at ASC LIMIT ?`,
		now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*DelayedJob
	for rows.Next() {
		j := &DelayedJob{}
		var firedAt sql.NullTime
		if err := rows.Scan(&j.ID, &j.ExecutionID, &j.OrgID, &j.NodeID, &j.RunAt, &firedAt, &j.CreatedAt); err != nil {
			return nil, err
		}
		if firedAt.Valid {
			j.FiredAt = &firedAt.Time
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *LibSQLStore) MarkDelayedJobFired(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE delayed_jobs SET fired_at = CURRENT_TIMESTAMP WHERE id = ? AND fired_at IS NULL`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "delayed job", id)
}

// --- Messages ---

func (s *LibSQLStore) CreateMessage(ctx context.Context, msg *Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, org_id, lead_id, conversation_id, execution_id, node_id, body, source, tier, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.OrgID, msg.LeadID, nullStr(msg.ConversationID), msg.ExecutionID,
		msg.NodeID, msg.Body, msg.Source, nullStr(msg.Tier), timeOrNow(msg.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) ListMessagesByExecution(ctx context.Context, executionID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, lead_id, conversation_id, execution_id, node_id, body, source, tier, created_at
		 FROM messages WHERE execution_id = ? ORDER BY created_at ASC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		var conversationID, tier sql.NullString
		if err := rows.Scan(&m.ID, &m.OrgID, &m.LeadID, &conversationID, &m.ExecutionID,
			&m.NodeID, &m.Body, &m.Source, &tier, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ConversationID = conversationID.String
		m.Tier = tier.String
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// --- Leads ---

func (s *LibSQLStore) UpsertLead(ctx context.Context, l *Lead) error {
	fields, err := json.Marshal(l.Fields)
	if err != nil {
		return fmt.Errorf("marshal lead fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (id, org_id, fields, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(org_id, id) DO UPDATE SET fields=excluded.fields, updated_at=CURRENT_TIMESTAMP`,
		l.ID, l.OrgID, string(fields), timeOrNow(l.CreatedAt), timeOrNow(l.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetLeadRecord(ctx context.Context, orgID, leadID string) (lead.Record, error) {
	var fieldsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT fields FROM leads WHERE id = ? AND org_id = ?`, leadID, orgID,
	).Scan(&fieldsJSON)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("lead", leadID)
	}
	if err != nil {
		return nil, err
	}
	var rec lead.Record
	if err := json.Unmarshal([]byte(fieldsJSON), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal lead fields: %w", err)
	}
	return rec, nil
}

// --- Triggers ---

func (s *LibSQLStore) CreateTrigger(ctx context.Context, t *Trigger) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO triggers (id, org_id, definition_id, lead_id, conversation_id, cron_expression, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OrgID, t.DefinitionID, t.LeadID, nullStr(t.ConversationID), t.CronExpression,
		boolInt(t.Enabled), nullTime(t.LastRunAt), nullTime(t.NextRunAt), nullStr(t.LastRunStatus),
		timeOrNow(t.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) ListEnabledTriggers(ctx context.Context) ([]*Trigger, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, definition_id, lead_id, conversation_id, cron_expression, enabled, last_run_at, next_run_at, last_run_status, created_at
		 FROM triggers WHERE enabled = 1 ORDER BY next_run_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var triggers []*Trigger
	for rows.Next() {
		t := &Trigger{}
		var conversationID, lastStatus sql.NullString
		var lastRun, nextRun sql.NullTime
		var enabled int
		if err := rows.Scan(&t.ID, &t.OrgID, &t.DefinitionID, &t.LeadID, &conversationID,
			&t.CronExpression, &enabled, &lastRun, &nextRun, &lastStatus, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.ConversationID = conversationID.String
		t.LastRunStatus = lastStatus.String
		t.Enabled = enabled != 0
		if lastRun.Valid {
			t.LastRunAt = &lastRun.Time
		}
		if nextRun.Valid {
			t.NextRunAt = &nextRun.Time
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

func (s *LibSQLStore) UpdateTrigger(ctx context.Context, id string, update TriggerUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE triggers SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "trigger", id)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
