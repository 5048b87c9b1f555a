// Package archive stores persisted measurements in Cassandra
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/fako1024/btforce/pkg/measurement"
	"github.com/gocql/gocql"
)

const (
	insertMeasurement = `INSERT INTO measurements (subject, started_at, id, label, interval_s, f_max, samples)
         VALUES (?, ?, ?, ?, ?, ?, ?)`
	insertSample = `INSERT INTO measurement_samples (id, idx, t, force) VALUES (?, ?, ?, ?)`

	// maxBatchSize limits the number of statements per (unlogged) batch
	maxBatchSize = 500
)

// Schema denotes the statements creating the archive tables
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS measurements (
		subject text,
		started_at timestamp,
		id timeuuid,
		label text,
		interval_s double,
		f_max double,
		samples int,
		PRIMARY KEY ((subject), started_at, id)
	) WITH CLUSTERING ORDER BY (started_at DESC, id ASC)`,
	`CREATE TABLE IF NOT EXISTS measurement_samples (
		id timeuuid,
		idx int,
		t double,
		force double,
		PRIMARY KEY ((id), idx)
	)`,
}

// Archive denotes a measurement sink backed by Cassandra
type Archive struct {
	session     *gocql.Session
	consistency gocql.Consistency
	timeout     time.Duration
}

// Connect creates a session to a Cassandra cluster
func Connect(hosts []string, keyspace string, timeout time.Duration) (*Archive, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.ProtoVersion = 4
	cluster.Timeout = timeout
	cluster.ConnectTimeout = 2 * timeout
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 1}
	cluster.Consistency = gocql.LocalQuorum

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cassandra: %w", err)
	}

	return &Archive{
		session:     session,
		consistency: gocql.LocalQuorum,
		timeout:     timeout,
	}, nil
}

// EnsureSchema creates the archive tables, if required
func (a *Archive) EnsureSchema(ctx context.Context) error {
	for _, stmt := range Schema {
		if err := a.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to create archive schema: %w", err)
		}
	}
	return nil
}

// Save stores a series, the samples in batches of bounded size
func (a *Archive) Save(ctx context.Context, s *measurement.Series) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	id := gocql.UUIDFromTime(s.StartedAt)
	for _, chunk := range Statements(id, s) {
		batch := a.session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
		batch.SetConsistency(a.consistency)
		for _, stmt := range chunk {
			batch.Query(stmt.Query, stmt.Args...)
		}
		if err := a.session.ExecuteBatch(batch); err != nil {
			return fmt.Errorf("failed to archive series %s: %w", s.Name(), err)
		}
	}

	return nil
}

// Close terminates the session
func (a *Archive) Close() {
	if a.session != nil {
		a.session.Close()
	}
}

// Statement denotes a single CQL statement and its arguments
type Statement struct {
	Query string
	Args  []interface{}
}

// Statements returns the statements archiving a series, split into chunks of bounded size.
// Samples are keyed by their index, as consecutive samples may share a time.
// The summary row is part of the last chunk, so it only exists once all samples are stored.
func Statements(id gocql.UUID, s *measurement.Series) [][]Statement {
	var (
		chunks [][]Statement
		chunk  []Statement
	)
	for i, sample := range s.Samples {
		chunk = append(chunk, Statement{Query: insertSample, Args: []interface{}{id, i, sample.Time, sample.Force}})
		if len(chunk) == maxBatchSize {
			chunks = append(chunks, chunk)
			chunk = nil
		}
	}

	peak, err := s.Peak(measurement.ColumnForce)
	if err != nil {
		peak = 0
	}
	chunk = append(chunk, Statement{
		Query: insertMeasurement,
		Args:  []interface{}{s.Subject, s.StartedAt, id, s.Label, s.Interval.Seconds(), peak, len(s.Samples)},
	})

	return append(chunks, chunk)
}
