package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/atomledger/internal/atomid"
	"github.com/roach88/atomledger/internal/ir"
	"github.com/roach88/atomledger/internal/ledger"
	"github.com/roach88/atomledger/internal/validate"
)

// AppendOptions holds flags for the append command.
type AppendOptions struct {
	*RootOptions
	UID   string
	Key   string
	Type  string
	TS    string
	Meta  []string
	NewID bool
}

type appendRecord struct {
	StoreID   int64  `json:"store_id"`
	AtomUID   string `json:"atom_uid"`
	EventType string `json:"event_type"`
	Inserted  bool   `json:"inserted"`
}

type appendFailure struct {
	Index     int      `json:"index"`
	AtomUID   string   `json:"atom_uid"`
	EventType string   `json:"event_type"`
	Codes     []string `json:"codes,omitempty"`
	Error     string   `json:"error"`
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append [file|-]",
		Short: "Append events to the ledger",
		Long: `Append events to the ledger.

Events are read from a file, or stdin when the file is "-" or omitted, as a
single JSON object, a JSON array, or JSON lines. A single event can also be
given with flags. Every event is attempted; any rejection fails the command
and every rejected event is listed.

Examples:
  atomledger append events.jsonl
  atomledger append --new-id --type created --key acme/onboard/v1/intake/ops/010 --meta title=Intake
  atomledger append --uid 01J... --type revised --meta 'deps=["01J..."]'`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.UID, "uid", "", "atom_uid of a single event")
	cmd.Flags().StringVar(&opts.Key, "key", "", "atom_key of a single event")
	cmd.Flags().StringVar(&opts.Type, "type", "", "event_type of a single event")
	cmd.Flags().StringVar(&opts.TS, "ts", "", "event_ts as RFC 3339 (default: now)")
	cmd.Flags().StringArrayVar(&opts.Meta, "meta", nil, "meta entry key=value; JSON values are decoded")
	cmd.Flags().BoolVar(&opts.NewID, "new-id", false, "assign a fresh atom_uid to a single event")

	return cmd
}

func runAppend(opts *AppendOptions, args []string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	var events []ir.Event
	var err error
	if opts.Type != "" {
		if len(args) > 0 {
			return NewExitError(ExitCommandError, "give either an input file or --type, not both")
		}
		var ev ir.Event
		ev, err = opts.flagEvent()
		events = []ir.Event{ev}
	} else {
		events, err = readEventInput(args, cmd.InOrStdin())
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid input", err)
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	results, err := opts.newLedger(st, nil).AppendAll(cmd.Context(), events)

	records := make([]appendRecord, len(results))
	for i, r := range results {
		records[i] = appendRecord{
			StoreID:   r.StoreID,
			AtomUID:   r.Event.AtomUID,
			EventType: r.Event.Type.String(),
			Inserted:  r.Inserted,
		}
	}

	var batchErr *ledger.BatchError
	if errors.As(err, &batchErr) {
		return reportAppendFailures(out, records, batchErr)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "append failed", err)
	}

	var b strings.Builder
	for _, r := range records {
		state := "inserted"
		if !r.Inserted {
			state = "duplicate"
		}
		fmt.Fprintf(&b, "%d\t%s\t%s\t%s\n", r.StoreID, r.AtomUID, r.EventType, state)
	}
	fmt.Fprintf(&b, "✓ %d events appended", len(records))
	return out.Success(records, b.String())
}

func reportAppendFailures(out *OutputFormatter, accepted []appendRecord, batchErr *ledger.BatchError) error {
	failures := make([]appendFailure, len(batchErr.Failures))
	code := "append_failed"
	for i, f := range batchErr.Failures {
		failures[i] = appendFailure{
			Index:     f.Index,
			AtomUID:   f.Event.AtomUID,
			EventType: f.Event.Type.String(),
			Error:     f.Err.Error(),
		}
		var verrs validate.Errors
		if errors.As(f.Err, &verrs) {
			failures[i].Codes = verrs.Codes()
			if i == 0 && len(verrs) > 0 {
				code = verrs[0].Code
			}
		}
	}

	msg := fmt.Sprintf("%d of %d events rejected", len(failures), len(failures)+len(accepted))
	if out.JSON() {
		if err := out.Error(code, msg, map[string]any{
			"accepted": accepted,
			"rejected": failures,
		}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out.Writer, "✗ %s\n", msg)
		for _, f := range failures {
			fmt.Fprintf(out.Writer, "  [%d] %s %s: %s\n", f.Index, f.EventType, f.AtomUID, f.Error)
		}
	}
	return NewExitError(ExitFailure, msg)
}

// flagEvent builds the single event described by --uid, --key, --type, --ts
// and --meta.
func (o *AppendOptions) flagEvent() (ir.Event, error) {
	t, err := ir.ParseEventType(o.Type)
	if err != nil {
		return ir.Event{}, err
	}
	uid := o.UID
	if o.NewID {
		if uid != "" {
			return ir.Event{}, errors.New("--uid and --new-id are mutually exclusive")
		}
		uid = atomid.NewID()
	}
	meta, err := parseMeta(o.Meta)
	if err != nil {
		return ir.Event{}, err
	}
	ev := ir.Event{AtomUID: uid, AtomKey: o.Key, Type: t, Meta: meta}
	if o.TS != "" {
		ev.Timestamp, err = time.Parse(time.RFC3339Nano, o.TS)
		if err != nil {
			return ir.Event{}, fmt.Errorf("--ts: %w", err)
		}
	}
	return ev, nil
}

// parseMeta turns key=value pairs into a meta object. A value that is valid
// JSON is decoded, so deps=["a","b"] is a list and n=3 an integer; any
// other value is a string.
func parseMeta(pairs []string) (ir.IRObject, error) {
	raw := make(map[string]json.RawMessage, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("--meta %q: want key=value", p)
		}
		if json.Valid([]byte(v)) {
			raw[k] = json.RawMessage(v)
			continue
		}
		quoted, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw[k] = quoted
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var meta ir.IRObject
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("--meta: %w", err)
	}
	return meta, nil
}

func readEventInput(args []string, stdin io.Reader) ([]ir.Event, error) {
	if len(args) == 0 || args[0] == "-" {
		return decodeEvents(stdin)
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeEvents(f)
}

// decodeEvents reads a JSON array of events or a stream of event objects,
// which covers both a single object and JSON lines.
func decodeEvents(r io.Reader) ([]ir.Event, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, errors.New("no events in input")
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var events []ir.Event
		if err := dec.Decode(&events); err != nil {
			return nil, fmt.Errorf("decode event array: %w", err)
		}
		if len(events) == 0 {
			return nil, errors.New("no events in input")
		}
		return events, nil
	}

	var events []ir.Event
	for {
		var ev ir.Event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode event %d: %w", len(events), err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
