package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// getOpenAPISpec returns the OpenAPI 3.1.0 document of the API
func (s *Server) getOpenAPISpec(c *gin.Context) {
	c.JSON(http.StatusOK, s.openAPIDocument())
}

func (s *Server) openAPIDocument() map[string]interface{} {
	return map[string]interface{}{
		"openapi": "3.1.0",
		"info": map[string]interface{}{
			"title":       s.config.API.Name + " REST API",
			"description": "User management with password login, TOTP second factor, password recovery and audit history.",
			"version":     s.version,
		},
		"servers": []map[string]interface{}{
			{"url": s.config.API.URI},
		},
		"paths":      openAPIPaths(),
		"components": openAPIComponents(),
	}
}

func openAPIPaths() map[string]interface{} {
	return map[string]interface{}{
		"/health": map[string]interface{}{
			"get": operation("Health check", "Health", nil, nil, "HealthResponse", false),
		},
		"/api/ping": map[string]interface{}{
			"get": operation("Liveness check", "Health", nil, nil, "PingResponse", false),
		},
		"/api/v1/auth/actions/signin": map[string]interface{}{
			"post": operation("Sign in", "Auth", nil, "SigninRequest", "TokenResponse", false),
		},
		"/api/v1/auth/actions/signup": map[string]interface{}{
			"post": operation("Sign up", "Auth", nil, "UserCreate", "TokenResponse", false),
		},
		"/api/v1/auth/actions/signout": map[string]interface{}{
			"post": operation("Sign out and revoke the token", "Auth", nil, nil, "LogoutResponse", true),
		},
		"/api/v1/auth/actions/request-password-recovery": map[string]interface{}{
			"post": operation("Request a password recovery link", "Auth", nil, "RecoveryRequest", nil, false),
		},
		"/api/v1/auth/actions/change-password/{token}": map[string]interface{}{
			"post": operation("Change the password with a recovery token", "Auth",
				[]interface{}{pathParam("token")}, "ChangePasswordRequest", nil, false),
		},
		"/api/v1/auth/otp/actions/start-registration": map[string]interface{}{
			"post": operation("Start 2FA registration", "OTP", nil, nil, "OTPURIResponse", true),
		},
		"/api/v1/auth/otp/actions/finish-registration": map[string]interface{}{
			"post": operation("Finish 2FA registration", "OTP", nil, "OTPCodeRequest", "TokenResponse", true),
		},
		"/api/v1/auth/otp/actions/get-uri": map[string]interface{}{
			"get": operation("Get the otpauth URI", "OTP", nil, nil, "OTPURIResponse", true),
		},
		"/api/v1/auth/otp/actions/validate": map[string]interface{}{
			"post": operation("Validate a 2FA code", "OTP", nil, "OTPCodeRequest", "TokenResponse", true),
		},
		"/api/v1/auth/otp/actions/disable": map[string]interface{}{
			"post": operation("Disable 2FA", "OTP", nil, nil, "DisableOTPResponse", true),
		},
		"/api/v1/users": map[string]interface{}{
			"get":  operation("List users", "Users", listParams(), nil, "UserListResponse", true),
			"post": operation("Create a user", "Users", nil, "UserCreate", "UserResponse", true),
		},
		"/api/v1/users/{username}": map[string]interface{}{
			"get":   operation("Get a user", "Users", []interface{}{pathParam("username")}, nil, "UserResponse", true),
			"patch": operation("Update a user with JSON Patch", "Users", []interface{}{pathParam("username")}, "UserPatch", "UserResponse", true),
		},
		"/api/v1/users/{username}/histories": map[string]interface{}{
			"get": operation("List the history of a user", "Histories",
				[]interface{}{pathParam("username"), queryParam("page", "integer"), queryParam("size", "integer")}, nil, "HistoryListResponse", true),
		},
		"/api/v1/user-histories": map[string]interface{}{
			"get": operation("List user histories", "Histories", listParams(), nil, "HistoryListResponse", true),
		},
	}
}

func operation(summary, tag string, params []interface{}, body, response interface{}, secured bool) map[string]interface{} {
	op := map[string]interface{}{
		"summary": summary,
		"tags":    []string{tag},
	}
	if params != nil {
		op["parameters"] = params
	}
	if body != nil {
		op["requestBody"] = map[string]interface{}{
			"required": true,
			"content":  jsonContent(body.(string)),
		}
	}

	success := map[string]interface{}{"description": "Success"}
	if response != nil {
		success["content"] = jsonContent(response.(string))
	}
	op["responses"] = map[string]interface{}{
		"200":     success,
		"default": map[string]interface{}{"description": "Error", "content": jsonContent("ErrorResponse")},
	}
	if secured {
		op["security"] = []map[string]interface{}{{"bearerAuth": []string{}}}
	}
	return op
}

func jsonContent(schema string) map[string]interface{} {
	return map[string]interface{}{
		"application/json": map[string]interface{}{
			"schema": map[string]interface{}{"$ref": "#/components/schemas/" + schema},
		},
	}
}

func pathParam(name string) map[string]interface{} {
	return map[string]interface{}{
		"name": name, "in": "path", "required": true,
		"schema": map[string]interface{}{"type": "string"},
	}
}

func queryParam(name, typ string) map[string]interface{} {
	return map[string]interface{}{
		"name": name, "in": "query", "required": false,
		"schema": map[string]interface{}{"type": typ},
	}
}

func listParams() []interface{} {
	filters := queryParam("filters", "string")
	filters["description"] = "JSON encoded DataTable filters"
	sorting := queryParam("sorting", "string")
	sorting["description"] = "JSON encoded array of {field, order}"
	return []interface{}{queryParam("page", "integer"), queryParam("size", "integer"), filters, sorting}
}

func object(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func envelope(data interface{}) map[string]interface{} {
	return object(map[string]interface{}{
		"code":    map[string]interface{}{"type": "integer"},
		"message": map[string]interface{}{"type": "string"},
		"data":    data,
	})
}

func ref(name string) map[string]interface{} {
	return map[string]interface{}{"$ref": "#/components/schemas/" + name}
}

func openAPIComponents() map[string]interface{} {
	str := map[string]interface{}{"type": "string"}
	integer := map[string]interface{}{"type": "integer"}
	boolean := map[string]interface{}{"type": "boolean"}
	nullableURI := map[string]interface{}{"type": []string{"string", "null"}, "format": "uri"}
	dateTime := map[string]interface{}{"type": "string", "format": "date-time"}

	userRef := object(map[string]interface{}{
		"id": integer, "name": str, "username": str, "avatar": nullableURI,
	})

	return map[string]interface{}{
		"securitySchemes": map[string]interface{}{
			"bearerAuth": map[string]interface{}{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
		},
		"schemas": map[string]interface{}{
			"SigninRequest":         object(map[string]interface{}{"username": str, "password": str}, "username", "password"),
			"RecoveryRequest":       object(map[string]interface{}{"username": str}, "username"),
			"ChangePasswordRequest": object(map[string]interface{}{"password": str}, "password"),
			"OTPCodeRequest": object(map[string]interface{}{
				"code": map[string]interface{}{"type": []string{"string", "integer"}},
			}, "code"),
			"UserCreate": object(map[string]interface{}{
				"name": str, "email": str, "username": str, "password": str,
				"avatar": nullableURI, "cover": nullableURI,
			}, "name", "email", "username", "password"),
			"UserPatch": object(map[string]interface{}{
				"patches": map[string]interface{}{
					"type": "array",
					"items": object(map[string]interface{}{
						"op": str, "path": str, "from": str, "value": map[string]interface{}{},
					}, "op", "path"),
				},
			}, "patches"),
			"User": object(map[string]interface{}{
				"id": integer, "name": str, "username": str, "email": str,
				"avatar": nullableURI, "cover": nullableURI,
				"otpEnabled": boolean, "otpVerified": boolean, "active": boolean,
				"createdAt": dateTime, "updatedAt": dateTime,
			}),
			"UserHistory": object(map[string]interface{}{
				"id": integer, "event": str, "createdAt": dateTime,
				"user": userRef, "operator": userRef,
			}),
			"TokenResponse":  envelope(object(map[string]interface{}{"token": str})),
			"OTPURIResponse": envelope(object(map[string]interface{}{"tokenUri": str})),
			"UserResponse":   envelope(object(map[string]interface{}{"user": ref("User")})),
			"UserListResponse": envelope(object(map[string]interface{}{
				"totalRows": integer, "currentPage": integer, "pageSize": integer,
				"users": map[string]interface{}{"type": "array", "items": ref("User")},
			})),
			"HistoryListResponse": envelope(object(map[string]interface{}{
				"totalRows": integer, "currentPage": integer, "pageSize": integer,
				"userHistories": map[string]interface{}{"type": "array", "items": ref("UserHistory")},
			})),
			"LogoutResponse":     envelope(object(map[string]interface{}{"loggedOut": boolean}, "loggedOut")),
			"DisableOTPResponse": envelope(object(map[string]interface{}{"disabled": boolean}, "disabled")),
			"PingResponse":       object(map[string]interface{}{"message": str, "date": dateTime}),
			"HealthResponse": object(map[string]interface{}{
				"status": str, "timestamp": dateTime, "version": str, "uptime": str,
				"checks": map[string]interface{}{"type": "object", "additionalProperties": str},
			}),
			"ErrorResponse": object(map[string]interface{}{
				"code": integer, "message": str, "error": str,
				"details": map[string]interface{}{"type": "object"},
			}),
		},
	}
}
