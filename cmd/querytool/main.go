// Command querytool works with queries offline: it parses text or XML
// queries, prints their normalized form, execution plan, backend request
// and fingerprint, and can run a query against a peer's rpc endpoint.
//
// Usage:
//
//	querytool [-config path] parse|explain|render|fingerprint [-xml file | -q text] [-max n] [-sort spec] [-fields a,b]
//	querytool [-config path] peer -addr host:port [-xml file | -q text] ...
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/field"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/backend"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/engine"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/rpc"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup("warn", "text")

	if err := run(cfg, flag.Arg(0), flag.Args()[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: querytool [-config path] parse|explain|render|fingerprint|peer [flags]")
	flag.PrintDefaults()
}

type queryFlags struct {
	text   string
	xml    string
	max    int
	sort   string
	fields string
	addr   string
}

func run(cfg *config.Config, cmd string, args []string, stdin io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	var qf queryFlags
	fs.StringVar(&qf.text, "q", "", "text query")
	fs.StringVar(&qf.xml, "xml", "", "XML query document file, - for stdin")
	fs.IntVar(&qf.max, "max", cfg.Search.DefaultMaxResults, "maxResults for text queries")
	fs.StringVar(&qf.sort, "sort", "", "sort spec for text queries, e.g. year:desc")
	fs.StringVar(&qf.fields, "fields", "", "comma-separated return fields for text queries")
	fs.StringVar(&qf.addr, "addr", "", "peer rpc address (peer only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fields, err := field.LoadFile(cfg.Fields.Path)
	if err != nil {
		return err
	}
	codec := query.NewCodec(fields)
	q, err := load(codec, qf, stdin)
	if err != nil {
		return err
	}

	switch cmd {
	case "parse":
		doc, err := q.Document()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, q.String())
		fmt.Fprintln(out, string(doc))
	case "explain":
		plan, err := engine.New(fields, engine.NewRegistry()).Plan(q.Condition())
		if err != nil {
			return err
		}
		fmt.Fprint(out, plan.Explain())
	case "render":
		req, err := backend.NewRenderer(fields, cfg.Backend).Request(q.Condition(), q.MaxResults(), q.SortBy(), q.ReturnFields())
		if err != nil {
			return err
		}
		return printJSON(out, req)
	case "fingerprint":
		fp, err := q.Fingerprint()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, fp)
	case "peer":
		return peer(q, qf.addr, cfg.Federation.Timeout, out)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func load(codec *query.Codec, qf queryFlags, stdin io.Reader) (*query.Query, error) {
	switch {
	case qf.xml != "" && qf.text != "":
		return nil, errors.New("-q and -xml are mutually exclusive")
	case qf.xml != "":
		var (
			data []byte
			err  error
		)
		if qf.xml == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(qf.xml)
		}
		if err != nil {
			return nil, fmt.Errorf("reading query document: %w", err)
		}
		return codec.Decode(data)
	case qf.text != "":
		sortBy, err := query.ParseSortSpec(qf.sort)
		if err != nil {
			return nil, err
		}
		var returnFields []string
		for _, f := range strings.Split(qf.fields, ",") {
			if f = strings.TrimSpace(f); f != "" {
				returnFields = append(returnFields, f)
			}
		}
		return codec.ParseText(qf.text, qf.max, sortBy, returnFields)
	}
	return nil, errors.New("one of -q or -xml is required")
}

func peer(q *query.Query, addr string, timeout time.Duration, out io.Writer) error {
	if addr == "" {
		return errors.New("-addr is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	client, err := rpc.Dial(ctx, addr, timeout)
	if err != nil {
		return err
	}
	defer client.Close()
	doc, err := q.Document()
	if err != nil {
		return err
	}
	var resp proto.ExecuteResponse
	if err := client.Call(ctx, proto.MethodExecute, proto.ExecuteRequest{Document: string(doc)}, &resp); err != nil {
		return err
	}
	return printJSON(out, resp)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
