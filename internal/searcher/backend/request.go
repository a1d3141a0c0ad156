package backend

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/condition"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/field"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/config"
)

// matchAll is sent when every clause went into filter queries.
const matchAll = "*:*"

// Request is a rendered select request.
type Request struct {
	Q      string   `json:"q"`
	FQ     []string `json:"fq,omitempty"`
	Sort   string   `json:"sort,omitempty"`
	Rows   int      `json:"rows"`
	FL     string   `json:"fl,omitempty"`
	Fields []string `json:"usedFields"`
}

// Values encodes the request as select parameters.
func (r *Request) Values() url.Values {
	v := url.Values{}
	v.Set("q", r.Q)
	for _, fq := range r.FQ {
		v.Add("fq", fq)
	}
	if r.Sort != "" {
		v.Set("sort", r.Sort)
	}
	v.Set("rows", strconv.Itoa(r.Rows))
	if r.FL != "" {
		v.Set("fl", r.FL)
	}
	v.Set("wt", "json")
	return v
}

// Renderer builds backend requests. Fields of joined indexes are moved
// into join filter queries when they sit under a top-level conjunction.
type Renderer struct {
	fields        *field.Registry
	mode          Mode
	joined        map[string]bool
	joinTemplate  string
	keyField      string
	unlimitedRows int
}

func NewRenderer(fields *field.Registry, cfg config.BackendConfig) *Renderer {
	joined := make(map[string]bool, len(cfg.JoinedIndexes))
	for _, idx := range cfg.JoinedIndexes {
		joined[idx] = true
	}
	return &Renderer{
		fields:        fields,
		mode:          Mode(cfg.Mode),
		joined:        joined,
		joinTemplate:  cfg.JoinTemplate,
		keyField:      cfg.KeyField,
		unlimitedRows: cfg.UnlimitedRows,
	}
}

func (r *Renderer) Mode() Mode { return r.mode }

// KeyField is the backend field holding the hit key.
func (r *Renderer) KeyField() string { return r.keyField }

// Render renders c in the configured mode.
func (r *Renderer) Render(c condition.Condition, used map[string]struct{}) string {
	return Render(c, r.mode, used)
}

// Request renders c with its sort keys, row limit and field list.
func (r *Renderer) Request(c condition.Condition, maxResults int, sortBy []query.SortCriterion, returnFields []string) (*Request, error) {
	used := make(map[string]struct{})
	req := &Request{Rows: maxResults}
	if maxResults <= 0 {
		req.Rows = r.unlimitedRows
	}

	main, filters, err := r.splitJoins(c)
	if err != nil {
		return nil, err
	}
	for _, f := range filters {
		body := r.Render(f.cond, used)
		if body == "" {
			continue
		}
		join := fmt.Sprintf(r.joinTemplate, r.keyField, r.keyField, f.index)
		req.FQ = append(req.FQ, join+body)
	}
	if main != nil {
		req.Q = r.Render(main, used)
	}
	if req.Q == "" {
		req.Q = matchAll
	}

	if len(sortBy) > 0 {
		parts := make([]string, len(sortBy))
		for i, s := range sortBy {
			dir := "desc"
			if s.Ascending {
				dir = "asc"
			}
			parts[i] = s.Field + " " + dir
		}
		req.Sort = strings.Join(parts, ",")
	}
	if len(returnFields) > 0 {
		fl := []string{r.keyField}
		for _, f := range returnFields {
			if !slices.Contains(fl, f) {
				fl = append(fl, f)
			}
		}
		req.FL = strings.Join(fl, ",")
	}

	for f := range used {
		req.Fields = append(req.Fields, f)
	}
	slices.Sort(req.Fields)
	return req, nil
}

type joinFilter struct {
	index string
	cond  condition.Condition
}

// splitJoins separates the top-level conjuncts owned by joined indexes.
// Under any other top-level shape the condition is rendered inline.
func (r *Renderer) splitJoins(c condition.Condition) (condition.Condition, []joinFilter, error) {
	if c == nil || len(r.joined) == 0 {
		return c, nil, nil
	}
	var members []condition.Condition
	switch x := c.(type) {
	case *condition.And:
		members = x.Children
	case *condition.Or:
		return c, nil, nil
	default:
		members = []condition.Condition{c}
	}
	groups, err := condition.GroupByIndex(members, r.fields.IndexOf)
	if err != nil {
		return nil, nil, err
	}
	var rest []condition.Condition
	var filters []joinFilter
	for _, g := range groups {
		if g.Single && r.joined[g.Index] {
			filters = append(filters, joinFilter{index: g.Index, cond: condition.Normalize(condition.NewAnd(g.Members...))})
			continue
		}
		rest = append(rest, g.Members...)
	}
	return condition.Normalize(condition.NewAnd(rest...)), filters, nil
}
