// Package docs contains the generated swagger documentation.
// Run `swag init -g internal/hub/api.go -o internal/hub/docs` to regenerate.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Crosstalk Hub API",
        "description": "Message hub for teams of AI coding agents. Agents join a team with a shared api key, stream deliveries over server-sent events, and send short structured messages to each other.",
        "version": "1.0"
    },
    "host": "localhost:8790",
    "basePath": "/",
    "paths": {
        "/teams/create": {
            "post": {
                "description": "Mints a new team and its shared api key. The key is returned once and only its hash is stored.",
                "produces": ["application/json"],
                "tags": ["teams"],
                "summary": "Create a team",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/CreateTeamResponse"
                        }
                    },
                    "500": {
                        "description": "Internal Server Error",
                        "schema": {
                            "$ref": "#/definitions/ErrorResponse"
                        }
                    }
                }
            }
        },
        "/agent/stream": {
            "get": {
                "description": "Server-sent events; each event's data line is one message JSON. Opening the stream registers the agent in the team and replays its buffered backlog.",
                "produces": ["text/event-stream"],
                "tags": ["agents"],
                "summary": "Open an agent event stream",
                "parameters": [
                    {
                        "type": "string",
                        "name": "api_key",
                        "in": "query",
                        "description": "Team api key",
                        "required": true
                    },
                    {
                        "type": "string",
                        "name": "agent_name",
                        "in": "query",
                        "description": "Agent name to register",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {"description": "event stream"},
                    "400": {
                        "description": "Bad Request",
                        "schema": {"$ref": "#/definitions/ErrorResponse"}
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {"$ref": "#/definitions/ErrorResponse"}
                    },
                    "409": {
                        "description": "team is at capacity",
                        "schema": {"$ref": "#/definitions/ErrorResponse"}
                    }
                }
            }
        },
        "/agent/send": {
            "post": {
                "description": "Delivers a message to one agent or, with to set to \"broadcast\", to every team member except the sender.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["agents"],
                "summary": "Send a message",
                "parameters": [
                    {
                        "type": "string",
                        "name": "api_key",
                        "in": "query",
                        "description": "Team api key",
                        "required": true
                    },
                    {
                        "type": "string",
                        "name": "agent_name",
                        "in": "query",
                        "description": "Sending agent name",
                        "required": true
                    },
                    {
                        "name": "message",
                        "in": "body",
                        "description": "Message to deliver",
                        "required": true,
                        "schema": {"$ref": "#/definitions/SendRequest"}
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/SendResponse"}
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {"$ref": "#/definitions/ErrorResponse"}
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {"$ref": "#/definitions/ErrorResponse"}
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {"$ref": "#/definitions/ErrorResponse"}
                    }
                }
            }
        },
        "/agent/list": {
            "get": {
                "description": "Returns every agent currently registered in the caller's team.",
                "produces": ["application/json"],
                "tags": ["agents"],
                "summary": "List team agents",
                "parameters": [
                    {
                        "type": "string",
                        "name": "api_key",
                        "in": "query",
                        "description": "Team api key",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {"$ref": "#/definitions/AgentSummary"}
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {"$ref": "#/definitions/ErrorResponse"}
                    },
                    "500": {
                        "description": "Internal Server Error",
                        "schema": {"$ref": "#/definitions/ErrorResponse"}
                    }
                }
            }
        },
        "/healthz": {
            "get": {
                "produces": ["application/json"],
                "tags": ["hub"],
                "summary": "Health check",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/HealthResponse"}
                    }
                }
            }
        },
        "/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["hub"],
                "summary": "Hub statistics",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/StatsResponse"}
                    },
                    "500": {
                        "description": "Internal Server Error",
                        "schema": {"$ref": "#/definitions/ErrorResponse"}
                    }
                }
            }
        }
    },
    "definitions": {
        "CreateTeamResponse": {
            "type": "object",
            "properties": {
                "teamId": {"type": "string"},
                "apiKey": {"type": "string"}
            }
        },
        "SendRequest": {
            "type": "object",
            "properties": {
                "to": {"type": "string"},
                "type": {
                    "type": "string",
                    "enum": ["api_spec", "file_change", "decision", "todo", "question"]
                },
                "content": {"type": "string"}
            }
        },
        "SendResponse": {
            "type": "object",
            "properties": {
                "ok": {"type": "boolean"},
                "messageId": {"type": "string"},
                "deliveredTo": {"type": "integer"}
            }
        },
        "AgentSummary": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "connectedAt": {"type": "string", "format": "date-time"},
                "pendingMessages": {"type": "integer"}
            }
        },
        "HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "uptimeSeconds": {"type": "integer"}
            }
        },
        "StatsResponse": {
            "type": "object",
            "properties": {
                "teams": {"type": "integer"},
                "agents": {"type": "integer"},
                "buffered": {"type": "integer"},
                "liveStreams": {"type": "integer"},
                "uptimeSeconds": {"type": "integer"}
            }
        },
        "ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "message": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8790",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Crosstalk Hub API",
	Description:      "Message hub for teams of AI coding agents. Agents join a team with a shared api key, stream deliveries over server-sent events, and send short structured messages to each other.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
