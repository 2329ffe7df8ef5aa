package openapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// SearchLimits describes the accepted search parameter ranges.
type SearchLimits struct {
	MinQueryLength int
	DefaultLimit   int
	MaxLimit       int
}

// Generator builds the OpenAPI 3.0 document for the mapping API.
type Generator struct {
	version string
	limits  SearchLimits
}

// NewGenerator creates a new OpenAPI spec generator.
func NewGenerator(version string, limits SearchLimits) *Generator {
	return &Generator{version: version, limits: limits}
}

// GenerateSpec produces the OpenAPI 3.0 spec as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "Procedure Mapping API",
			"version":     g.version,
			"description": "Search homegrown procedure names and their SNOMED CT mappings",
		},
		"paths": map[string]interface{}{
			"/api/mappings/search": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Search procedure mappings",
					"operationId": "searchMappings",
					"tags":        []string{"mappings"},
					"parameters":  g.searchParameters(),
					"responses": map[string]interface{}{
						"200": buildResponseWithSchema("Matching mappings ordered by homegrown name", "#/components/schemas/SearchResponse"),
						"304": map[string]interface{}{"description": "Not Modified"},
						"400": buildResponseWithSchema("Invalid query or limit", "#/components/schemas/Error"),
						"429": buildResponseWithSchema("Rate limit exceeded", "#/components/schemas/Error"),
						"500": buildResponseWithSchema("Unexpected result shape", "#/components/schemas/Error"),
						"503": buildResponseWithSchema("Mapping store unavailable", "#/components/schemas/Error"),
						"504": buildResponseWithSchema("Request timed out", "#/components/schemas/Error"),
					},
				},
			},
			"/healthz": probe("Liveness probe", "livenessProbe", "ok"),
			"/readyz":  probe("Readiness probe, checks the mapping store", "readinessProbe", "ready"),
			"/health/db": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Mapping store connectivity and pool statistics",
					"operationId": "storeHealth",
					"tags":        []string{"health"},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Store healthy"},
						"503": map[string]interface{}{"description": "Store unhealthy"},
					},
				},
			},
		},
		"components": map[string]interface{}{
			"schemas": map[string]interface{}{
				"SearchResponse": buildSearchResponseSchema(),
				"SearchResult":   buildSearchResultSchema(),
				"Status":         buildStatusSchema(),
				"Error":          buildErrorSchema(),
			},
		},
	}
}

func (g *Generator) searchParameters() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"name":        "q",
			"in":          "query",
			"required":    true,
			"description": "Free-text procedure name, matched case-insensitively after normalization",
			"schema": map[string]interface{}{
				"type":      "string",
				"minLength": g.limits.MinQueryLength,
			},
		},
		{
			"name":        "limit",
			"in":          "query",
			"required":    false,
			"description": "Maximum number of results",
			"schema": map[string]interface{}{
				"type":    "integer",
				"minimum": 1,
				"maximum": g.limits.MaxLimit,
				"default": g.limits.DefaultLimit,
			},
		},
	}
}

func probe(summary, operationID, status string) map[string]interface{} {
	return map[string]interface{}{
		"get": map[string]interface{}{
			"summary":     summary,
			"operationId": operationID,
			"tags":        []string{"health"},
			"responses": map[string]interface{}{
				"200": map[string]interface{}{
					"description": summary,
					"content": map[string]interface{}{
						"application/json": map[string]interface{}{
							"schema":  map[string]interface{}{"$ref": "#/components/schemas/Status"},
							"example": map[string]string{"status": status},
						},
					},
				},
			},
		},
	}
}

func buildResponseWithSchema(description, schemaRef string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]interface{}{"$ref": schemaRef},
			},
		},
	}
}

func buildSearchResponseSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"query", "results"},
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "The query as submitted"},
			"results": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"$ref": "#/components/schemas/SearchResult"},
			},
		},
	}
}

func buildSearchResultSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"homegrown_name", "snomed_code", "snomed_name", "score"},
		"properties": map[string]interface{}{
			"homegrown_name": map[string]interface{}{"type": "string"},
			"snomed_code":    map[string]interface{}{"type": "string"},
			"snomed_name":    map[string]interface{}{"type": "string"},
			"score":          map[string]interface{}{"type": "number", "format": "double"},
		},
	}
}

func buildStatusSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"status": map[string]interface{}{"type": "string"},
		},
	}
}

func buildErrorSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]interface{}{"type": "string"},
		},
	}
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Procedure Mapping API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
  <style>
    html { box-sizing: border-box; overflow-y: scroll; }
    *, *:before, *:after { box-sizing: inherit; }
    body { margin: 0; background: #fafafa; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/openapi.json",
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [
        SwaggerUIBundle.presets.apis,
        SwaggerUIBundle.SwaggerUIStandalonePreset
      ],
      layout: "BaseLayout"
    })
  </script>
</body>
</html>`

// docsCSP allows the Swagger UI bundle and its inline bootstrap script.
const docsCSP = "default-src 'self'; script-src 'self' 'unsafe-inline' https://unpkg.com; " +
	"style-src 'self' 'unsafe-inline' https://unpkg.com; img-src 'self' data: https://unpkg.com"

// RegisterRoutes registers the OpenAPI endpoints.
func (g *Generator) RegisterRoutes(e *echo.Echo) {
	e.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
	e.GET("/docs", func(c echo.Context) error {
		c.Response().Header().Set("Content-Security-Policy", docsCSP)
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}
