// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package crud

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/mongrest/internal/platform/apperr"
	requestutil "github.com/taibuivan/mongrest/internal/platform/request"
	"github.com/taibuivan/mongrest/internal/platform/respond"
	"github.com/taibuivan/mongrest/internal/platform/sec"
	"github.com/taibuivan/mongrest/internal/schema"
)

// Handler exposes the request pipeline over HTTP.
//
// # Scope
//
// The whole dynamic surface lives here: the CRUD routes, bulk, raw
// aggregation, body search, script execution, descriptor introspection, and
// procedure dispatch. Handlers parse and respond; everything else is the
// service's job.
type Handler struct {
	service *Service
}

// NewHandler constructs a [Handler] with its service dependency.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns a [chi.Router] with the full dynamic surface.
//
// # Endpoints
//   - GET    /crud/{collection}            : list read (find)
//   - POST   /crud/{collection}            : insertOne / insertMany
//   - POST   /crud/{collection}/aggregate  : raw pipeline
//   - POST   /crud/{collection}/search     : body-based find
//   - GET    /crud/{collection}/relationships : reverse relationship index
//   - GET    /crud/{collection}/explain    : server plan for the same read
//   - GET    /crud/{collection}/{id}       : findOne
//   - PUT    /crud/{collection}/{id}       : replaceOne
//   - PATCH  /crud/{collection}/{id}       : updateOne
//   - DELETE /crud/{collection}/{id}       : deleteOne
//   - POST   /crud/bulk                    : heterogeneous batch
//   - GET    /schema/collections[/{name}]  : descriptor introspection
//   - POST   /scripts/execute              : shell-script execution
//   - ANY    /functions/{endpoint}         : procedure dispatch
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Route("/crud", func(router chi.Router) {
		router.Post("/bulk", handler.bulk)

		router.Route("/{collection}", func(router chi.Router) {
			router.Get("/", handler.find)
			router.Post("/", handler.insert)
			router.Post("/aggregate", handler.aggregate)
			router.Post("/search", handler.search)
			router.Get("/relationships", handler.relationships)
			router.Get("/explain", handler.explain)

			router.Get("/{id}", handler.findOne)
			router.Put("/{id}", handler.replace)
			router.Patch("/{id}", handler.update)
			router.Delete("/{id}", handler.remove)
		})
	})

	router.Route("/schema", func(router chi.Router) {
		router.Get("/collections", handler.listCollections)
		router.Get("/collections/{name}", handler.getCollection)
	})

	router.Post("/scripts/execute", handler.executeScript)

	// Procedures declare their own method + endpoint; dispatch resolves
	// them at request time so hot reload can add routes without a restart.
	router.HandleFunc("/functions/*", handler.executeProcedure)

	return router
}

// # Read Handlers

func (handler *Handler) find(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()
	user := requestutil.User(request)
	collection := requestutil.Param(request, "collection")

	result, err := handler.service.Find(request.Context(), user, collection, request.URL.Query())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	meta := respond.NewQueryMeta(start).WithPipeline(result.Stages, result.HasRelationships)
	meta.Cached = result.Cached
	respond.Query(writer, result.Documents, meta)
}

func (handler *Handler) findOne(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()
	user := requestutil.User(request)
	collection := requestutil.Param(request, "collection")
	id := requestutil.Param(request, "id")

	document, err := handler.service.FindOne(request.Context(), user, collection, id, request.URL.Query())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Query(writer, document, respond.NewQueryMeta(start))
}

func (handler *Handler) explain(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()
	user := requestutil.User(request)
	collection := requestutil.Param(request, "collection")

	plan, err := handler.service.Explain(request.Context(), user, collection, request.URL.Query())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Query(writer, plan, respond.NewQueryMeta(start))
}

func (handler *Handler) search(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()
	user := requestutil.User(request)
	collection := requestutil.Param(request, "collection")

	var input SearchRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.service.Search(request.Context(), user, collection, &input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	meta := respond.NewQueryMeta(start).WithPipeline(result.Stages, result.HasRelationships)
	meta.Cached = result.Cached
	respond.Query(writer, result.Documents, meta)
}

// # Write Handlers

func (handler *Handler) insert(writer http.ResponseWriter, request *http.Request) {
	user := requestutil.User(request)
	collection := requestutil.Param(request, "collection")

	var body any
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.service.Insert(request.Context(), user, collection, body)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Created(writer, result)
}

func (handler *Handler) replace(writer http.ResponseWriter, request *http.Request) {
	user := requestutil.User(request)
	collection := requestutil.Param(request, "collection")
	id := requestutil.Param(request, "id")

	body, err := decodeObject(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	// An operator body on PUT signals updateOne intent; strict mode points
	// the caller at PATCH instead of silently partial-updating.
	if hasOperatorKeys(body) {
		if err := CheckMethod(handler.service.cfg.StrictMethods, http.MethodPut, OpUpdateOne); err != nil {
			respond.Error(writer, request, err)
			return
		}
		result, err := handler.service.Update(request.Context(), user, collection, id, body)
		if err != nil {
			respond.Error(writer, request, err)
			return
		}
		respond.OK(writer, result)
		return
	}

	result, err := handler.service.Replace(request.Context(), user, collection, id, body)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, result)
}

func (handler *Handler) update(writer http.ResponseWriter, request *http.Request) {
	user := requestutil.User(request)
	collection := requestutil.Param(request, "collection")
	id := requestutil.Param(request, "id")

	body, err := decodeObject(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.service.Update(request.Context(), user, collection, id, body)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, result)
}

func (handler *Handler) remove(writer http.ResponseWriter, request *http.Request) {
	user := requestutil.User(request)
	collection := requestutil.Param(request, "collection")
	id := requestutil.Param(request, "id")

	result, err := handler.service.Delete(request.Context(), user, collection, id)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, result)
}

func (handler *Handler) bulk(writer http.ResponseWriter, request *http.Request) {
	user := requestutil.User(request)

	var input BulkRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	results, err := handler.service.Bulk(request.Context(), user, &input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, results)
}

// # Aggregation & Scripts

// aggregateRequest is the JSON payload of the raw pipeline endpoint.
type aggregateRequest struct {
	Pipeline []map[string]any `json:"pipeline"`
}

func (handler *Handler) aggregate(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()
	user := requestutil.User(request)
	collection := requestutil.Param(request, "collection")

	var input aggregateRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	documents, err := handler.service.Aggregate(request.Context(), user, collection, request.Method, input.Pipeline)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	meta := respond.NewQueryMeta(start)
	stages := len(input.Pipeline)
	meta.PipelineStages = &stages
	respond.Query(writer, documents, meta)
}

func (handler *Handler) executeScript(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()
	user := requestutil.User(request)

	var input ScriptRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.service.ExecuteScript(request.Context(), user, input.Source())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Query(writer, result, respond.NewQueryMeta(start))
}

// # Procedures

func (handler *Handler) executeProcedure(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()
	user := requestutil.User(request)

	// The descriptor's endpoint is the path below /functions.
	endpoint := strings.TrimPrefix(request.URL.Path, "/functions")
	if endpoint == "" {
		endpoint = "/"
	}

	params := map[string]any{}
	if request.Method != http.MethodGet && request.Body != nil && request.ContentLength != 0 {
		if err := requestutil.DecodeJSON(request, &params); err != nil {
			respond.Error(writer, request, err)
			return
		}
	}

	result, err := handler.service.ExecuteProcedure(request.Context(), user, request.Method, endpoint, params)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Query(writer, result, respond.NewQueryMeta(start))
}

// # Introspection

// collectionSummary is the public view of one descriptor.
type collectionSummary struct {
	Name          string   `json:"name"`
	Title         string   `json:"title,omitempty"`
	Description   string   `json:"description,omitempty"`
	Fields        []string `json:"fields"`
	Relationships []string `json:"relationships,omitempty"`
	SearchFields  []string `json:"searchFields,omitempty"`
}

func (handler *Handler) listCollections(writer http.ResponseWriter, request *http.Request) {
	reg := handler.service.registry.Registry()

	summaries := make([]collectionSummary, 0)
	for _, name := range reg.CollectionNames() {
		summaries = append(summaries, summarize(reg.Collection(name)))
	}
	respond.OK(writer, summaries)
}

func (handler *Handler) getCollection(writer http.ResponseWriter, request *http.Request) {
	name := requestutil.Param(request, "name")
	reg := handler.service.registry.Registry()

	collection := reg.Collection(name)
	if collection == nil {
		respond.Error(writer, request, apperr.NotFound("Collection", name))
		return
	}

	user := requestutil.User(request)
	if !user.Role.AtLeast(sec.RoleAdmin) {
		// Non-admins get the summary; the raw descriptor leaks policy.
		respond.OK(writer, summarize(collection))
		return
	}
	respond.OK(writer, collection)
}

func (handler *Handler) relationships(writer http.ResponseWriter, request *http.Request) {
	name := requestutil.Param(request, "collection")
	reg := handler.service.registry.Registry()

	collection := reg.Collection(name)
	if collection == nil {
		respond.Error(writer, request, apperr.NotFound("Collection", name))
		return
	}

	incoming := reg.IncomingRelationships(name)
	if incoming == nil {
		incoming = []schema.IncomingRelationship{}
	}

	outgoing := make(map[string]*schema.Relationship, len(collection.Relationships))
	for alias, relationship := range collection.Relationships {
		outgoing[alias] = relationship
	}

	respond.OK(writer, map[string]any{
		"collection": name,
		"outgoing":   outgoing,
		"incoming":   incoming,
	})
}

// # Handler Helpers

func summarize(collection *schema.Collection) collectionSummary {
	summary := collectionSummary{
		Name:         collection.Name,
		Title:        collection.Title,
		Description:  collection.Description,
		Fields:       make([]string, 0, len(collection.Properties)),
		SearchFields: collection.SearchFields,
	}
	for field := range collection.Properties {
		summary.Fields = append(summary.Fields, field)
	}
	for alias := range collection.Relationships {
		summary.Relationships = append(summary.Relationships, alias)
	}
	sort.Strings(summary.Fields)
	sort.Strings(summary.Relationships)
	return summary
}

// decodeObject reads a JSON object body.
func decodeObject(request *http.Request) (map[string]any, error) {
	var body map[string]any
	if err := requestutil.DecodeJSON(request, &body); err != nil {
		return nil, err
	}
	return body, nil
}

// hasOperatorKeys reports whether a body is an operator-style update.
func hasOperatorKeys(body map[string]any) bool {
	for key := range body {
		if strings.HasPrefix(key, "$") {
			return true
		}
	}
	return false
}
