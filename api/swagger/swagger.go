package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Merchant Cashback API",
        "description": "Cashback risk assessment and approval workflow for merchants",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "tags": [
        {"name": "Authentication", "description": "Merchant login and token issuance"},
        {"name": "Cashback", "description": "Cashback request lifecycle and payouts"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate merchant",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "Token issued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/cashback": {
            "post": {
                "tags": ["Cashback"],
                "summary": "Submit a cashback request",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateCashbackRequest"}}
                ],
                "responses": {
                    "201": {"description": "Request created with computed risk assessment", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error"}
                }
            },
            "get": {
                "tags": ["Cashback"],
                "summary": "Search cashback requests",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "customerId", "in": "query", "type": "string"},
                    {"name": "riskLevel", "in": "query", "type": "string", "enum": ["low", "medium", "high"]},
                    {"name": "flagged", "in": "query", "type": "boolean"},
                    {"name": "startDate", "in": "query", "type": "string"},
                    {"name": "endDate", "in": "query", "type": "string"},
                    {"name": "minAmount", "in": "query", "type": "number"},
                    {"name": "maxAmount", "in": "query", "type": "number"},
                    {"name": "sortBy", "in": "query", "type": "string"},
                    {"name": "sortOrder", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "Paged results", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cashback/metrics": {
            "get": {
                "tags": ["Cashback"],
                "summary": "Per-status request counters",
                "responses": {
                    "200": {"description": "Metrics", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cashback/analytics": {
            "get": {
                "tags": ["Cashback"],
                "summary": "Cashback trend analytics",
                "parameters": [
                    {"name": "startDate", "in": "query", "type": "string"},
                    {"name": "endDate", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Analytics", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cashback/pending-count": {
            "get": {
                "tags": ["Cashback"],
                "summary": "Count of requests awaiting review",
                "responses": {
                    "200": {"description": "Count", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cashback/export": {
            "get": {
                "tags": ["Cashback"],
                "summary": "Export requests to CSV or PDF",
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "startDate", "in": "query", "type": "string"},
                    {"name": "endDate", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Signed download link", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cashback/export/{token}": {
            "get": {
                "tags": ["Cashback"],
                "summary": "Download a generated export",
                "produces": ["application/octet-stream"],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File"},
                    "401": {"description": "Invalid or expired token"}
                }
            }
        },
        "/cashback/{id}": {
            "get": {
                "tags": ["Cashback"],
                "summary": "Get request detail",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/cashback/{id}/approve": {
            "put": {
                "tags": ["Cashback"],
                "summary": "Approve a pending request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ApproveCashbackRequest"}}
                ],
                "responses": {
                    "200": {"description": "Approved", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid transition or amount"}
                }
            }
        },
        "/cashback/{id}/reject": {
            "put": {
                "tags": ["Cashback"],
                "summary": "Reject a pending request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RejectCashbackRequest"}}
                ],
                "responses": {
                    "200": {"description": "Rejected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid transition or missing reason"}
                }
            }
        },
        "/cashback/{id}/mark-paid": {
            "put": {
                "tags": ["Cashback"],
                "summary": "Record an out-of-band disbursement",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/MarkPaidRequest"}}
                ],
                "responses": {
                    "200": {"description": "Marked paid", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid transition"}
                }
            }
        },
        "/cashback/{id}/process-payment": {
            "post": {
                "tags": ["Cashback"],
                "summary": "Disburse through the payout gateway",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/ProcessPaymentRequest"}}
                ],
                "responses": {
                    "200": {"description": "Paid, or approved with meta.payoutError on gateway failure", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Not approved or bank details missing"}
                }
            }
        },
        "/cashback/{id}/payout-status": {
            "get": {
                "tags": ["Cashback"],
                "summary": "Query gateway payout state",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Payout status", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No payout initiated"}
                }
            }
        },
        "/cashback/{id}/history": {
            "get": {
                "tags": ["Cashback"],
                "summary": "Audit trail for one cashback request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Audit entries", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/cashback/bulk-action": {
            "post": {
                "tags": ["Cashback"],
                "summary": "Approve or reject multiple requests",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BulkActionRequest"}}
                ],
                "responses": {
                    "200": {"description": "Per-id outcomes", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "CreateCashbackRequest": {
            "type": "object",
            "required": ["customerId", "orderId", "requestedAmount", "orderAmount"],
            "properties": {
                "customerId": {"type": "string"},
                "orderId": {"type": "string"},
                "requestedAmount": {"type": "number"},
                "orderAmount": {"type": "number"},
                "reason": {"type": "string"},
                "bankDetails": {"$ref": "#/definitions/BankDetails"},
                "customerAccountAge": {"type": "integer"},
                "customerVerified": {"type": "boolean"}
            }
        },
        "ApproveCashbackRequest": {
            "type": "object",
            "required": ["approvedAmount"],
            "properties": {
                "approvedAmount": {"type": "number"},
                "notes": {"type": "string"}
            }
        },
        "RejectCashbackRequest": {
            "type": "object",
            "required": ["reason"],
            "properties": {
                "reason": {"type": "string"}
            }
        },
        "MarkPaidRequest": {
            "type": "object",
            "required": ["paymentMethod", "paymentReference"],
            "properties": {
                "paymentMethod": {"type": "string", "enum": ["wallet", "bank_transfer", "check"]},
                "paymentReference": {"type": "string"},
                "notes": {"type": "string"}
            }
        },
        "ProcessPaymentRequest": {
            "type": "object",
            "properties": {
                "bankDetails": {"$ref": "#/definitions/BankDetails"}
            }
        },
        "BulkActionRequest": {
            "type": "object",
            "required": ["requestIds", "action"],
            "properties": {
                "requestIds": {"type": "array", "items": {"type": "string"}},
                "action": {"type": "string", "enum": ["approve", "reject"]},
                "notes": {"type": "string"},
                "rejectionReason": {"type": "string"}
            }
        },
        "BankDetails": {
            "type": "object",
            "properties": {
                "accountNumber": {"type": "string"},
                "ifscCode": {"type": "string"},
                "accountHolderName": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
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
