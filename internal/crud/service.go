// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package crud is the request pipeline: the layer between the HTTP surface and
the compiled query plane.

Every request runs the same gauntlet, in order:

 1. Resolve the collection descriptor (unknown → 404).
 2. Authorize the caller for the operation, including every relationship
    target the selection expands into.
 3. Enforce the per-subject rate limit.
 4. Parse and validate the query surface (select / filters / sort / paging).
 5. Check the complexity ceiling for the caller's role.
 6. Compile to a pipeline and execute, consulting the result cache for reads.

Handlers in this package contain no database logic; compilation lives in
[query] and execution in the platform store.
*/
package crud

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/taibuivan/mongrest/internal/governor"
	"github.com/taibuivan/mongrest/internal/platform/apperr"
	"github.com/taibuivan/mongrest/internal/platform/cache"
	"github.com/taibuivan/mongrest/internal/platform/config"
	"github.com/taibuivan/mongrest/internal/platform/mongo"
	"github.com/taibuivan/mongrest/internal/platform/ratelimit"
	"github.com/taibuivan/mongrest/internal/platform/sec"
	"github.com/taibuivan/mongrest/internal/procedure"
	"github.com/taibuivan/mongrest/internal/query"
	"github.com/taibuivan/mongrest/internal/schema"
)

// RegistrySource yields the current descriptor registry. Hot reload swaps
// registries behind this interface, so the service never caches one.
type RegistrySource interface {
	Registry() *schema.Registry
}

// Service orchestrates the request pipeline for the CRUD, script, and
// procedure surfaces.
type Service struct {
	registry RegistrySource
	store    mongo.Store
	governor *governor.Governor
	limiter  ratelimit.Limiter
	cache    cache.ResultCache
	executor *procedure.Executor
	hooks    *HookRegistry
	cfg      *config.Config
	log      *slog.Logger
}

// NewService wires the pipeline's dependencies.
func NewService(
	registry RegistrySource,
	store mongo.Store,
	gov *governor.Governor,
	limiter ratelimit.Limiter,
	resultCache cache.ResultCache,
	executor *procedure.Executor,
	hooks *HookRegistry,
	cfg *config.Config,
	log *slog.Logger,
) *Service {
	if hooks == nil {
		hooks = NewHookRegistry(nil)
	}
	return &Service{
		registry: registry,
		store:    store,
		governor: gov,
		limiter:  limiter,
		cache:    resultCache,
		executor: executor,
		hooks:    hooks,
		cfg:      cfg,
		log:      log,
	}
}

// ListResult carries a read result plus the facts the response meta reports.
type ListResult struct {
	Documents        []mongo.Document
	Stages           int
	HasRelationships bool
	Cached           bool
}

// # Read Surface

// Find serves GET /crud/{collection}: parse, validate, authorize, compile,
// and execute a list read.
func (s *Service) Find(ctx context.Context, user *sec.UserContext, name string, values url.Values) (*ListResult, error) {
	reg := s.registry.Registry()
	collection := reg.Collection(name)
	if collection == nil {
		return nil, apperr.NotFound("Collection", name)
	}
	if err := s.guard(ctx, user, collection, OpFind); err != nil {
		return nil, err
	}

	in, err := s.parseQuery(reg, collection, values)
	if err != nil {
		return nil, err
	}

	return s.executeRead(ctx, reg, user, in)
}

// Search serves POST /crud/{collection}/search: the body-based variant of
// Find for filters too awkward to express in a query string.
func (s *Service) Search(ctx context.Context, user *sec.UserContext, name string, req *SearchRequest) (*ListResult, error) {
	reg := s.registry.Registry()
	collection := reg.Collection(name)
	if collection == nil {
		return nil, apperr.NotFound("Collection", name)
	}
	if err := s.guard(ctx, user, collection, OpFind); err != nil {
		return nil, err
	}

	in, err := s.parseSearch(reg, collection, req)
	if err != nil {
		return nil, err
	}

	return s.executeRead(ctx, reg, user, in)
}

// SearchRequest is the JSON body accepted by the search endpoint. Filters
// use the same field → condition shape as the query string, with JSON-typed
// values.
type SearchRequest struct {
	Filters map[string]any `json:"filters,omitempty"`
	Select  string         `json:"select,omitempty"`
	Sort    string         `json:"sort,omitempty"`
	Order   string         `json:"order,omitempty"`

	Page   int `json:"page,omitempty"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	Search       string   `json:"search,omitempty"`
	SearchFields []string `json:"searchFields,omitempty"`
}

// executeRead runs the shared tail of both list reads: authorize expanded
// relationships, check complexity, compile, and execute with the cache.
func (s *Service) executeRead(ctx context.Context, reg *schema.Registry, user *sec.UserContext, in query.Input) (*ListResult, error) {
	if err := s.authorizeSelections(reg, user, in.Collection, in.Select); err != nil {
		return nil, err
	}
	if err := s.governor.CheckQuery(user.Role, query.Measure(in.Select)); err != nil {
		return nil, err
	}

	plan, err := s.builder(reg).Build(in)
	if err != nil {
		return nil, err
	}

	result := &ListResult{Stages: len(plan.Pipeline), HasRelationships: plan.HasRelationships}

	key := cache.Key(fmt.Sprintf("%s|%v", in.Collection.Name, plan.Pipeline))
	if docs, ok := s.cachedDocuments(ctx, in.Collection.Name, key); ok {
		result.Documents = docs
		result.Cached = true
		return result, nil
	}

	docs, err := s.store.Aggregate(ctx, in.Collection.Name, plan.Pipeline)
	if err != nil {
		return nil, err
	}
	result.Documents = docs

	s.storeDocuments(ctx, in.Collection.Name, key, docs)
	return result, nil
}

// FindOne serves GET /crud/{collection}/{id}. Selections without
// relationships take the cheap point-read path; expansions go through the
// pipeline with the id match as the only filter.
func (s *Service) FindOne(ctx context.Context, user *sec.UserContext, name, id string, values url.Values) (mongo.Document, error) {
	reg := s.registry.Registry()
	collection := reg.Collection(name)
	if collection == nil {
		return nil, apperr.NotFound("Collection", name)
	}
	if err := s.guard(ctx, user, collection, OpFindOne); err != nil {
		return nil, err
	}

	var selections []query.Selection
	if expr := values.Get("select"); expr != "" {
		var err error
		selections, err = query.ParseSelect(expr)
		if err != nil {
			return nil, err
		}
		validator := &query.Validator{Registry: reg, MaxDepth: s.cfg.MaxRelationshipDepth}
		if err := validator.ValidateSelection(collection, selections); err != nil {
			return nil, err
		}
		if err := s.authorizeSelections(reg, user, collection, selections); err != nil {
			return nil, err
		}
		if err := s.governor.CheckQuery(user.Role, query.Measure(selections)); err != nil {
			return nil, err
		}
	}

	idValue := documentID(id)

	if !query.HasRelationships(selections) {
		doc, err := s.store.FindOne(ctx, name, bson.D{{Key: "_id", Value: idValue}}, mongo.FindOptions{})
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, apperr.NotFound("Document", id)
		}
		return doc, nil
	}

	in := query.Input{
		Collection: collection,
		Select:     selections,
		Filters:    query.Filters{Direct: map[string]query.Condition{"_id": {Op: query.OpEq, Value: idValue}}},
		Unpaged:    true,
	}
	plan, err := s.builder(reg).Build(in)
	if err != nil {
		return nil, err
	}
	pipeline := append(plan.Pipeline, bson.D{{Key: "$limit", Value: 1}})

	docs, err := s.store.Aggregate(ctx, name, pipeline)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, apperr.NotFound("Document", id)
	}
	return docs[0], nil
}

// Explain serves GET /crud/{collection}/explain: compile the read exactly
// as Find would, then ask the server for its plan instead of the documents.
// The plan never touches the result cache.
func (s *Service) Explain(ctx context.Context, user *sec.UserContext, name string, values url.Values) (mongo.Document, error) {
	reg := s.registry.Registry()
	collection := reg.Collection(name)
	if collection == nil {
		return nil, apperr.NotFound("Collection", name)
	}
	if err := s.guard(ctx, user, collection, OpExplain); err != nil {
		return nil, err
	}

	in, err := s.parseQuery(reg, collection, values)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeSelections(reg, user, collection, in.Select); err != nil {
		return nil, err
	}
	if err := s.governor.CheckQuery(user.Role, query.Measure(in.Select)); err != nil {
		return nil, err
	}

	plan, err := s.builder(reg).Build(in)
	if err != nil {
		return nil, err
	}
	return s.store.Explain(ctx, name, plan.Pipeline)
}

// # Query Parsing

// parseQuery lowers the URL query surface into a compiled-query input.
func (s *Service) parseQuery(reg *schema.Registry, collection *schema.Collection, values url.Values) (query.Input, error) {
	filters, err := query.ParseFilters(collection, values)
	if err != nil {
		return query.Input{}, err
	}

	in := query.Input{Collection: collection, Filters: filters}
	special := filters.Special

	if expr := special["select"]; expr != "" {
		if in.Select, err = query.ParseSelect(expr); err != nil {
			return query.Input{}, err
		}
	}
	if raw := special["sort"]; raw != "" {
		if in.Sort, err = parseSort(collection, raw, special["order"]); err != nil {
			return query.Input{}, err
		}
	}
	if in.Page, err = intParam("page", special["page"], 1); err != nil {
		return query.Input{}, err
	}
	if in.Limit, err = intParam("limit", special["limit"], 1); err != nil {
		return query.Input{}, err
	}
	if in.Offset, err = intParam("offset", special["offset"], 0); err != nil {
		return query.Input{}, err
	}

	in.Search = special["search"]
	if raw := special["searchFields"]; raw != "" {
		in.SearchFields = splitList(raw)
	}

	validator := &query.Validator{Registry: reg, MaxDepth: s.cfg.MaxRelationshipDepth}
	if err := validator.ValidateSelection(collection, in.Select); err != nil {
		return query.Input{}, err
	}
	if err := validator.ValidateRelationshipFilters(collection, filters); err != nil {
		return query.Input{}, err
	}
	return in, nil
}

// parseSearch lowers a search body into a compiled-query input.
func (s *Service) parseSearch(reg *schema.Registry, collection *schema.Collection, req *SearchRequest) (query.Input, error) {
	direct, err := query.ParseFilterMap(collection, req.Filters)
	if err != nil {
		return query.Input{}, err
	}

	in := query.Input{
		Collection:   collection,
		Filters:      query.Filters{Direct: direct},
		Page:         req.Page,
		Limit:        req.Limit,
		Offset:       req.Offset,
		Search:       req.Search,
		SearchFields: req.SearchFields,
	}

	if req.Select != "" {
		if in.Select, err = query.ParseSelect(req.Select); err != nil {
			return query.Input{}, err
		}
	}
	if req.Sort != "" {
		if in.Sort, err = parseSort(collection, req.Sort, req.Order); err != nil {
			return query.Input{}, err
		}
	}

	validator := &query.Validator{Registry: reg, MaxDepth: s.cfg.MaxRelationshipDepth}
	if err := validator.ValidateSelection(collection, in.Select); err != nil {
		return query.Input{}, err
	}
	return in, nil
}

// parseSort reads a comma list of field names. A leading '-' marks a field
// descending; the order parameter sets the direction of unmarked fields.
func parseSort(collection *schema.Collection, raw, order string) ([]schema.SortKey, error) {
	defaultDirection := "asc"
	switch order {
	case "", "asc", "1":
	case "desc", "-1":
		defaultDirection = "desc"
	default:
		return nil, apperr.QueryParse(fmt.Sprintf("Invalid order %q: use asc, desc, 1 or -1", order))
	}

	var keys []schema.SortKey
	for _, field := range splitList(raw) {
		direction := defaultDirection
		if strings.HasPrefix(field, "-") {
			field = field[1:]
			direction = "desc"
		}
		if !collection.HasProperty(field) {
			return nil, apperr.QueryParse(fmt.Sprintf("Unknown sort field %q on collection %q", field, collection.Name))
		}
		keys = append(keys, schema.SortKey{Field: field, Direction: direction})
	}
	return keys, nil
}

// intParam parses a positive integer query parameter; empty means unset.
func intParam(name, raw string, min int) (int, error) {
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < min {
		return 0, apperr.QueryParse(fmt.Sprintf("Parameter %q must be an integer >= %d", name, min))
	}
	return value, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	fields := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			fields = append(fields, trimmed)
		}
	}
	return fields
}

// documentID coerces a path id: 24-hex ids become ObjectIDs, everything
// else matches as the literal string.
func documentID(id string) any {
	if query.IsHexID(id) {
		if oid, err := bson.ObjectIDFromHex(id); err == nil {
			return oid
		}
	}
	return id
}

// # Authorization

// guard runs the per-request gate: collection scope, operation permission,
// and the rate limit, in that order.
func (s *Service) guard(ctx context.Context, user *sec.UserContext, collection *schema.Collection, operation string) error {
	if err := authorizeOperation(user, collection.Name, collection.Permissions, operation); err != nil {
		return err
	}
	return s.rateLimit(ctx, user, collection, operation)
}

// authorizeOperation decides whether the caller may run an operation on a
// collection.
//
// Order of precedence: token collection scope is a hard gate; admins and
// explicit "collection:operation" grants always pass; a descriptor
// permission list wins over defaults; otherwise reads are open and writes
// need editor.
func authorizeOperation(user *sec.UserContext, collection string, permissions map[string][]string, operation string) error {
	if !user.CollectionScoped(collection) {
		return apperr.Authorization(fmt.Sprintf("Token does not grant access to collection %q", collection))
	}
	if user.Role == sec.RoleAdmin || user.HasGrant(collection, operation) {
		return nil
	}

	if roles, declared := permissions[operation]; declared {
		for _, role := range roles {
			if user.Role.AtLeast(sec.ParseRole(role)) {
				return nil
			}
		}
		return apperr.Authorization(fmt.Sprintf("Operation %q on %q is not permitted for your role", operation, collection))
	}

	// Default policy: reads are open (descriptors restrict them through
	// their permission lists), writes need at least editor.
	if !isWriteOperation(operation) {
		return nil
	}
	if user.Role.AtLeast(sec.RoleEditor) {
		return nil
	}
	return apperr.Authorization(fmt.Sprintf("Operation %q on %q requires the %s role", operation, collection, sec.RoleEditor))
}

// authorizeSelections walks the selection tree and authorizes a read on
// every relationship target it expands, junction collections included.
// Per-relationship permission overrides win over the target's own list.
func (s *Service) authorizeSelections(reg *schema.Registry, user *sec.UserContext, collection *schema.Collection, selections []query.Selection) error {
	for _, selection := range selections {
		if selection.Kind == query.KindField {
			continue
		}

		relationship := collection.Relationship(selection.Relation)
		if relationship == nil {
			// Unknown aliases are a validation concern, reported earlier.
			continue
		}
		target := reg.Collection(relationship.Target)
		if target == nil {
			continue
		}

		permissions := target.Permissions
		if relationship.Permissions != nil {
			permissions = relationship.Permissions
		}
		if err := authorizeOperation(user, target.Name, permissions, OpFind); err != nil {
			return err
		}

		if relationship.Kind == schema.ManyToMany && relationship.Through != "" {
			var junctionPermissions map[string][]string
			if junction := reg.Collection(relationship.Through); junction != nil {
				junctionPermissions = junction.Permissions
			}
			if err := authorizeOperation(user, relationship.Through, junctionPermissions, OpFind); err != nil {
				return err
			}
		}

		if err := s.authorizeSelections(reg, user, target, selection.SubFields); err != nil {
			return err
		}
	}
	return nil
}

// # Rate Limiting

// rateLimit enforces the per-subject window: the role's gateway ceiling,
// unless the descriptor declares a tighter per-operation policy.
func (s *Service) rateLimit(ctx context.Context, user *sec.UserContext, collection *schema.Collection, operation string) error {
	limit := s.cfg.RateLimitFor(user.Role)
	if policy, ok := collection.RateLimits[operation]; ok && policy.Requests > 0 {
		limit = config.RateLimit{
			Requests: policy.Requests,
			Window:   time.Duration(policy.WindowSeconds) * time.Second,
		}
		if limit.Window <= 0 {
			limit.Window = time.Minute
		}
	}

	subject := user.Subject
	if subject == "" {
		subject = "anonymous"
	}

	decision, err := s.limiter.Allow(ctx, subject+":"+collection.Name+":"+operation, limit)
	if err != nil {
		// Fail open: a broken limiter backend must not take down reads.
		s.log.Warn("rate_limit_check_failed", slog.Any("error", err))
		return nil
	}
	if !decision.Allowed {
		return apperr.RateLimited(int(math.Ceil(decision.RetryAfter.Seconds())))
	}
	return nil
}

// # Result Cache

func (s *Service) cachedDocuments(ctx context.Context, collection, key string) ([]mongo.Document, bool) {
	if s.cfg.ResultCacheTTLSeconds <= 0 {
		return nil, false
	}
	payload, ok := s.cache.Get(ctx, collection, key)
	if !ok {
		return nil, false
	}

	var docs []mongo.Document
	if err := json.Unmarshal(payload, &docs); err != nil {
		s.log.Warn("result_cache_decode_failed", slog.Any("error", err))
		return nil, false
	}
	return docs, true
}

func (s *Service) storeDocuments(ctx context.Context, collection, key string, docs []mongo.Document) {
	if s.cfg.ResultCacheTTLSeconds <= 0 {
		return
	}
	payload, err := json.Marshal(docs)
	if err != nil {
		return
	}
	s.cache.Set(ctx, collection, key, payload, time.Duration(s.cfg.ResultCacheTTLSeconds)*time.Second)
}

func (s *Service) builder(reg *schema.Registry) *query.Builder {
	return &query.Builder{
		Registry:     reg,
		DefaultLimit: s.cfg.DefaultLimit,
		MaxLimit:     s.cfg.MaxLimit,
	}
}
