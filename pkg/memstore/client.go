package memstore

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/orneryd/grom/pkg/cypher"
	"github.com/orneryd/grom/pkg/graph"
)

// TxEngine is an engine that can open buffered transactions. Both Store and
// BadgerStore implement it.
type TxEngine interface {
	Engine
	Begin() (EngineTx, error)
}

// Client runs compiled statements against an engine. It implements
// cypher.Runner and, when the engine supports transactions, cypher.Beginner.
//
// A Client is safe for concurrent use; each Run call parses and evaluates
// independently.
type Client struct {
	engine Engine
	logger *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger attaches a structured logger. Statements log at debug
// level.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient wraps an engine in a statement runner.
func NewClient(engine Engine, opts ...ClientOption) *Client {
	c := &Client{engine: engine, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes one statement. A context already cancelled fails fast before
// the statement is parsed.
func (c *Client) Run(ctx context.Context, st *cypher.Statement) (*graph.Rows, error) {
	return run(ctx, c.engine, c.logger, st)
}

// Begin opens a transactional session over the engine.
func (c *Client) Begin(ctx context.Context) (cypher.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	te, ok := c.engine.(TxEngine)
	if !ok {
		return nil, &graph.Error{Code: graph.EUnsupported, Op: "memstore.Begin",
			Msg: "engine does not support transactions"}
	}
	tx, err := te.Begin()
	if err != nil {
		return nil, err
	}
	return &session{tx: tx, logger: c.logger}, nil
}

// session runs statements inside one buffered transaction.
type session struct {
	tx     EngineTx
	logger *zap.Logger
}

func (s *session) Run(ctx context.Context, st *cypher.Statement) (*graph.Rows, error) {
	return run(ctx, s.tx, s.logger, st)
}

func (s *session) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.tx.Commit()
}

func (s *session) Rollback(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.tx.Rollback()
}

func run(ctx context.Context, eng Engine, logger *zap.Logger, st *cypher.Statement) (*graph.Rows, error) {
	if st == nil || strings.TrimSpace(st.Text) == "" {
		return nil, &graph.Error{Code: graph.EInvalid, Op: "memstore.Run", Msg: "empty statement"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ast, err := parseStatement(st.Text)
	if err != nil {
		return nil, err
	}
	logger.Debug("run statement",
		zap.String("text", st.Text),
		zap.Int("params", len(st.Params)))
	ex := &executor{eng: eng, params: st.Params}
	return ex.exec(ctx, ast)
}
