package adminfn

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Headers": "authorization, content-type",
	"Content-Type":                 "application/json",
}

// HandleAPIGateway adapts API Gateway proxy events to Handle.
func (h *Handler) HandleAPIGateway(ctx context.Context, ev events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if ev.HTTPMethod == http.MethodOptions {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent, Headers: corsHeaders}, nil
	}
	body := []byte(ev.Body)
	if ev.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(ev.Body)
		if err != nil {
			return proxyResponse(http.StatusBadRequest, Response{Error: "invalid base64 body"}), nil
		}
		body = decoded
	}
	status, resp := h.Handle(ctx, bearerFromHeaders(ev.Headers), body)
	return proxyResponse(status, resp), nil
}

func bearerFromHeaders(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "Authorization") && strings.HasPrefix(v, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
		}
	}
	return ""
}

func proxyResponse(status int, resp Response) events.APIGatewayProxyResponse {
	b, _ := json.Marshal(resp)
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: corsHeaders, Body: string(b)}
}
