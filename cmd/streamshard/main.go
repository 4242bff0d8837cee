// Package main contains the cli implementation of the tool. It uses
// cobra package for cli tool implementation. streamshard starts a
// single in-process engine and drives it from a line-oriented REPL, so
// CREATE TABLE/INSERT/SELECT all see the same live state within one
// session.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"streamshard/internal/cache"
	"streamshard/internal/cluster"
	"streamshard/internal/config"
	"streamshard/internal/engine"
	"streamshard/internal/exec"
	"streamshard/internal/logging"
	"streamshard/internal/queryplan"
	"streamshard/internal/shard"
	"streamshard/internal/sqlquery"
	"streamshard/internal/table"
	"streamshard/internal/value"
)

type rootFlags struct {
	configFile string
	memoryCap  int64
	peers      []string
	script     string
	cacheTTL   time.Duration
	cacheCap   int
}

func main() {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:   "streamshard",
		Short: "In-memory time-partitioned columnar analytics engine",
		Long: `streamshard starts one engine instance and reads commands from a
script file (or stdin, interactively, if no --script is given):

  CREATE TABLE <name> [shard_duration_ms=N] [ttl_ms=N] [max_memory_bytes=N]
  INSERT <table> <json object>
  SELECT ... (any SQL this engine's grammar accepts)
  STATS <table>
  EXIT`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(flags)
		},
	}
	rootCmd.Flags().StringVar(&flags.configFile, "config", "", "optional TOML config file")
	rootCmd.Flags().Int64Var(&flags.memoryCap, "memory-cap", 1<<30, "engine-wide memory budget in bytes")
	rootCmd.Flags().StringSliceVar(&flags.peers, "peer", nil, "cluster peer base URL (repeatable)")
	rootCmd.Flags().StringVar(&flags.script, "script", "", "command script file; defaults to stdin")
	rootCmd.Flags().DurationVar(&flags.cacheTTL, "cache-ttl", 30*time.Second, "query result cache TTL")
	rootCmd.Flags().IntVar(&flags.cacheCap, "cache-capacity", 256, "query result cache entry capacity")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(flags *rootFlags) error {
	logger, err := logging.New()
	if err != nil {
		logger = logging.NewNop()
	}

	memCap := flags.memoryCap
	if flags.configFile != "" {
		cfg, err := config.LoadTOML(flags.configFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if cfg.MemoryCapBytes > 0 {
			memCap = cfg.MemoryCapBytes
		}
	}
	eng := engine.New(memCap, engine.WithLogger(logger))

	var agg *cluster.Aggregator
	if len(flags.peers) > 0 {
		agg = cluster.New(eng, flags.peers, logging.Component(logger, "cluster"))
	}
	resultCache := cache.New(flags.cacheCap, flags.cacheTTL)

	in := os.Stdin
	if flags.script != "" {
		f, err := os.Open(flags.script)
		if err != nil {
			return fmt.Errorf("opening script: %w", err)
		}
		defer f.Close()
		in = f
	}

	sess := &session{eng: eng, agg: agg, cache: resultCache}
	return sess.runLines(in)
}

type session struct {
	eng   *engine.StorageEngine
	agg   *cluster.Aggregator
	cache *cache.Cache
}

func (s *session) runLines(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			return nil
		}
		if err := s.dispatch(line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func (s *session) dispatch(line string) error {
	upper := strings.ToUpper(line)
	switch {
	case strings.HasPrefix(upper, "CREATE TABLE"):
		return s.createTable(line)
	case strings.HasPrefix(upper, "INSERT"):
		return s.insert(line)
	case strings.HasPrefix(upper, "STATS"):
		return s.stats(line)
	case strings.HasPrefix(upper, "SELECT"):
		return s.query(line)
	default:
		return fmt.Errorf("unrecognized command: %s", line)
	}
}

// createTable parses: CREATE TABLE <name> [key=value ...]
func (s *session) createTable(line string) error {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return fmt.Errorf("usage: CREATE TABLE <name> [shard_duration_ms=N] [ttl_ms=N] [max_memory_bytes=N]")
	}
	name := fields[2]
	cfg := table.DefaultConfig(name)
	for _, kv := range fields[3:] {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		switch parts[0] {
		case "shard_duration_ms":
			cfg = cfg.WithShardDuration(n)
		case "ttl_ms":
			cfg = cfg.WithTTL(n)
		case "max_memory_bytes":
			cfg = cfg.WithMaxMemory(n)
		}
	}
	if err := s.eng.CreateTable(cfg); err != nil {
		return err
	}
	fmt.Printf("created table %q\n", name)
	return nil
}

// insert parses: INSERT <table> <json object>
func (s *session) insert(line string) error {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) != 3 {
		return fmt.Errorf("usage: INSERT <table> <json object>")
	}
	tableName, jsonBody := fields[1], fields[2]
	row, err := decodeJSONRow(jsonBody)
	if err != nil {
		return fmt.Errorf("decoding row: %w", err)
	}

	if s.agg != nil {
		if err := s.agg.RouteInsert(context.Background(), tableName, row); err != nil {
			return err
		}
	} else if err := s.eng.Insert(tableName, row); err != nil {
		return err
	}
	s.cache.InvalidateTable(tableName)
	fmt.Println("ok")
	return nil
}

func decodeJSONRow(body string) (shard.Row, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, err
	}
	row := make(shard.Row, len(raw))
	for k, v := range raw {
		row[k] = jsonToValue(k, v)
	}
	return row, nil
}

func jsonToValue(field string, v any) value.Value {
	switch t := v.(type) {
	case nil:
		return value.Null
	case bool:
		return value.Bool(t)
	case string:
		return value.String(t)
	case float64:
		if field == shard.TimestampField || t == float64(int64(t)) {
			return value.Int64(int64(t))
		}
		return value.Float64(t)
	default:
		return value.Null
	}
}

func (s *session) stats(line string) error {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return fmt.Errorf("usage: STATS <table>")
	}
	tb, err := s.eng.Table(fields[1])
	if err != nil {
		return err
	}
	st := tb.Stats()
	fmt.Printf("table=%s shards=%d rows=%d memory_bytes=%d oldest_start=%d newest_end=%d\n",
		st.Name, st.ShardCount, st.RowCount, st.MemoryBytes, st.OldestStart, st.NewestEnd)
	if s.agg != nil {
		fmt.Printf("cluster_tier=%s cluster_children=%d\n",
			s.agg.Topology().Tier(), len(s.agg.Topology().Children()))
	}
	return nil
}

func (s *session) query(sql string) error {
	if s.agg != nil {
		res, err := s.agg.Query(context.Background(), sql)
		if err != nil {
			return err
		}
		printTable(res.Columns, res.Rows)
		if res.Availability != nil {
			fmt.Printf("availability: %.1f%% (%d/%d, complete=%v)\n",
				res.Availability.Percent, res.Availability.Responded, res.Availability.Queried, res.Availability.Complete)
		}
		return nil
	}

	if cached, ok := s.cache.Get(sql); ok {
		printTable(cached.Columns, cached.Rows)
		return nil
	}

	q, err := sqlquery.Parse(sql)
	if err != nil {
		return err
	}
	plan, err := queryplan.Build(q)
	if err != nil {
		return err
	}
	res, err := exec.Execute(context.Background(), s.eng, plan)
	if err != nil {
		return err
	}
	s.cache.Put(sql, res)
	printTable(res.Columns, res.Rows)
	return nil
}

func printTable(columns []string, rows [][]value.Value) {
	fmt.Println(strings.Join(columns, "\t"))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatValue(v)
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
	fmt.Printf("(%d rows)\n", len(rows))
}

func formatValue(v value.Value) string {
	if v.IsNull() {
		return "NULL"
	}
	switch v.Kind() {
	case value.KindBool:
		return strconv.FormatBool(v.AsBool())
	case value.KindString:
		return v.AsString()
	default:
		return v.String()
	}
}
