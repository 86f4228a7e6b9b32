// Package docs registers the API document served at /openapi.json.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/": {
            "get": {
                "produces": ["application/json"],
                "tags": ["meta"],
                "summary": "Service banner",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.MessageResponse"}}}
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["meta"],
                "summary": "Health check",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.HealthResponse"}}}
            }
        },
        "/users": {
            "get": {
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "List users",
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/user.User"}}}}
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "Create a user",
                "description": "May fail on purpose with a configurable probability.",
                "parameters": [{"description": "User to create", "name": "user", "in": "body", "required": true, "schema": {"$ref": "#/definitions/user.CreateUserRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/user.User"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/api.ErrorBody"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/api.ErrorBody"}}
                }
            }
        },
        "/users/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "Get a user",
                "parameters": [{"type": "integer", "description": "User ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/user.User"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorBody"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/api.ErrorBody"}}
                }
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "Delete a user",
                "parameters": [{"type": "integer", "description": "User ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.MessageResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorBody"}}
                }
            }
        },
        "/slow": {
            "get": {
                "produces": ["application/json"],
                "tags": ["demo"],
                "summary": "Slow operation",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.MessageResponse"}}}
            }
        },
        "/error": {
            "get": {
                "produces": ["application/json"],
                "tags": ["demo"],
                "summary": "Always fails",
                "responses": {"500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/api.ErrorBody"}}}
            }
        },
        "/metrics": {
            "get": {
                "produces": ["text/plain"],
                "tags": ["observability"],
                "summary": "Prometheus text exposition",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/metrics-info": {
            "get": {
                "produces": ["application/json"],
                "tags": ["observability"],
                "summary": "Describe the available metrics",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.MetricsInfoResponse"}}}
            }
        }
    },
    "definitions": {
        "api.ErrorBody": {
            "type": "object",
            "properties": {"detail": {"type": "string"}}
        },
        "user.CreateUserRequest": {
            "type": "object",
            "required": ["email", "name"],
            "properties": {
                "age": {"type": "integer", "maximum": 150, "minimum": 0},
                "email": {"type": "string"},
                "name": {"type": "string"}
            }
        },
        "user.User": {
            "type": "object",
            "properties": {
                "age": {"type": "integer"},
                "created_at": {"type": "string"},
                "email": {"type": "string"},
                "id": {"type": "integer"},
                "name": {"type": "string"}
            }
        },
        "handlers.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "timestamp": {"type": "string"},
                "version": {"type": "string"}
            }
        },
        "handlers.MessageResponse": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "message": {"type": "string"},
                "timestamp": {"type": "string"}
            }
        },
        "handlers.MetricInfo": {
            "type": "object",
            "properties": {
                "help": {"type": "string"},
                "labels": {"type": "array", "items": {"type": "string"}},
                "name": {"type": "string"},
                "type": {"type": "string"}
            }
        },
        "handlers.MetricsInfoResponse": {
            "type": "object",
            "properties": {
                "metrics": {"type": "array", "items": {"$ref": "#/definitions/handlers.MetricInfo"}},
                "endpoint": {"type": "string"},
                "span_processor": {"$ref": "#/definitions/observability.ProcessorStats"},
                "log_sink_errors": {"type": "object", "additionalProperties": {"type": "integer"}}
            }
        },
        "observability.ProcessorStats": {
            "type": "object",
            "properties": {
                "queued": {"type": "integer"},
                "dropped": {"type": "integer"},
                "exported": {"type": "integer"},
                "failed": {"type": "integer"},
                "rejected": {"type": "integer"},
                "queue_length": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Observability Demo API",
	Description:      "Demo service instrumented with metrics, structured logs and traces.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
