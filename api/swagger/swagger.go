package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Harmonia Schedule API",
        "description": "Recurring lesson scheduling for music school studios",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Patterns", "description": "Recurring pattern lifecycle and generation"},
        {"name": "Lessons", "description": "Individual occurrences, exceptions and status"},
        {"name": "Attendance", "description": "Per-student attendance on lessons"},
        {"name": "Schedule", "description": "Week views and exports"},
        {"name": "Admin", "description": "Internal service-to-service maintenance"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/patterns": {
            "get": {
                "tags": ["Patterns"],
                "summary": "List recurring patterns",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "studioId", "in": "query", "type": "integer"},
                    {"name": "teacherId", "in": "query", "type": "integer"},
                    {"name": "active", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Patterns"],
                "summary": "Create recurring pattern",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreatePatternRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/patterns/{id}": {
            "get": {
                "tags": ["Patterns"],
                "summary": "Get recurring pattern",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "patch": {
                "tags": ["Patterns"],
                "summary": "Update recurring pattern (optimistic locking)",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "force", "in": "query", "type": "boolean"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdatePatternRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Conflict or concurrent modification", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Patterns"],
                "summary": "Delete recurring pattern with its lessons",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "204": {"description": "Deleted"}
                }
            }
        },
        "/patterns/{id}/generate": {
            "post": {
                "tags": ["Patterns"],
                "summary": "Materialize lessons up to a horizon",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GenerateRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Horizon too large", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lessons": {
            "post": {
                "tags": ["Lessons"],
                "summary": "Create one-off lesson",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateLessonRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lessons/{id}": {
            "get": {
                "tags": ["Lessons"],
                "summary": "Get lesson",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lessons/{id}/exception": {
            "post": {
                "tags": ["Lessons"],
                "summary": "Reschedule one occurrence",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ExceptionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Lessons"],
                "summary": "Revert a rescheduled occurrence",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "204": {"description": "Reverted"}
                }
            }
        },
        "/lessons/{id}/complete": {
            "post": {
                "tags": ["Lessons"],
                "summary": "Mark lesson as held",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lessons/{id}/cancel": {
            "post": {
                "tags": ["Lessons"],
                "summary": "Cancel lesson with a reason",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CancelLessonRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lessons/{id}/miss": {
            "post": {
                "tags": ["Lessons"],
                "summary": "Mark lesson as missed",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lessons/{id}/attendance": {
            "get": {
                "tags": ["Attendance"],
                "summary": "List attendance records",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lessons/{id}/attendance/{studentId}": {
            "put": {
                "tags": ["Attendance"],
                "summary": "Update one student's attendance",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "studentId", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AttendanceUpdateRequest"}}
                ],
                "responses": {
                    "204": {"description": "Updated"}
                }
            }
        },
        "/schedule/week": {
            "get": {
                "tags": ["Schedule"],
                "summary": "Week schedule view",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "studioId", "in": "query", "required": true, "type": "integer"},
                    {"name": "date", "in": "query", "required": true, "type": "string"},
                    {"name": "teacherId", "in": "query", "type": "integer"},
                    {"name": "studentId", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedule/week/export": {
            "get": {
                "tags": ["Schedule"],
                "summary": "Export week schedule as CSV or PDF",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "studioId", "in": "query", "required": true, "type": "integer"},
                    {"name": "date", "in": "query", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File"}
                }
            }
        },
        "/admin/generate-all": {
            "post": {
                "tags": ["Admin"],
                "summary": "Top up all active patterns",
                "parameters": [
                    {"name": "X-Internal-API-Key", "in": "header", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreatePatternRequest": {
            "type": "object",
            "required": ["studioId", "teacherId", "dayOfWeek", "startTime", "durationMinutes", "validFrom", "studentIds"],
            "properties": {
                "studioId": {"type": "integer"},
                "teacherId": {"type": "integer"},
                "roomId": {"type": "integer"},
                "dayOfWeek": {"type": "integer", "minimum": 1, "maximum": 7},
                "startTime": {"type": "string", "example": "16:00"},
                "durationMinutes": {"type": "integer", "minimum": 30, "maximum": 180},
                "validFrom": {"type": "string", "example": "2024-01-01"},
                "validUntil": {"type": "string"},
                "notes": {"type": "string"},
                "studentIds": {"type": "array", "items": {"type": "integer"}}
            }
        },
        "UpdatePatternRequest": {
            "type": "object",
            "required": ["version"],
            "properties": {
                "roomId": {"type": "integer"},
                "makeOnline": {"type": "boolean"},
                "startTime": {"type": "string"},
                "durationMinutes": {"type": "integer"},
                "validUntil": {"type": "string"},
                "clearValidUntil": {"type": "boolean"},
                "isActive": {"type": "boolean"},
                "notes": {"type": "string"},
                "studentIds": {"type": "array", "items": {"type": "integer"}},
                "version": {"type": "integer"}
            }
        },
        "GenerateRequest": {
            "type": "object",
            "required": ["horizonEnd"],
            "properties": {
                "horizonEnd": {"type": "string", "example": "2024-02-01"}
            }
        },
        "CreateLessonRequest": {
            "type": "object",
            "required": ["studioId", "teacherId", "date", "startTime", "durationMinutes", "studentIds"],
            "properties": {
                "studioId": {"type": "integer"},
                "teacherId": {"type": "integer"},
                "roomId": {"type": "integer"},
                "date": {"type": "string"},
                "startTime": {"type": "string"},
                "durationMinutes": {"type": "integer"},
                "notes": {"type": "string"},
                "studentIds": {"type": "array", "items": {"type": "integer"}}
            }
        },
        "ExceptionRequest": {
            "type": "object",
            "properties": {
                "date": {"type": "string"},
                "startTime": {"type": "string"},
                "durationMinutes": {"type": "integer"},
                "roomId": {"type": "integer"},
                "makeOnline": {"type": "boolean"},
                "notes": {"type": "string"}
            }
        },
        "CancelLessonRequest": {
            "type": "object",
            "required": ["reason"],
            "properties": {
                "reason": {"type": "string"}
            }
        },
        "AttendanceUpdateRequest": {
            "type": "object",
            "required": ["status"],
            "properties": {
                "status": {"type": "string", "enum": ["scheduled", "attended", "missed", "cancelled"]}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
