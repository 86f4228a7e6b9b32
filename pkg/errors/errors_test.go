package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", NewValidation("bad"), http.StatusUnprocessableEntity},
		{"not found", NewNotFound("User not found"), http.StatusNotFound},
		{"injected fault", NewInjectedFault("Random server error"), http.StatusInternalServerError},
		{"internal", NewInternal("boom", stderrors.New("db")), http.StatusInternalServerError},
		{"wrapped not found", fmt.Errorf("lookup: %w", NewNotFound("x")), http.StatusNotFound},
		{"cancelled", context.Canceled, StatusClientClosedRequest},
		{"deadline", fmt.Errorf("delay: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"plain", stderrors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestWrapPreservesType(t *testing.T) {
	err := Wrap(NewNotFound("User not found"), "get user")

	assert.True(t, IsNotFound(err))
	assert.Equal(t, "NOT_FOUND: get user: User not found", err.Error())
	assert.Nil(t, Wrap(nil, "ignored"))
	assert.True(t, IsInternal(Wrap(stderrors.New("io"), "read")))
}

func TestMessageHidesInternalDetails(t *testing.T) {
	assert.Equal(t, "Internal server error", Message(NewInternal("secret", stderrors.New("dsn"))))
	assert.Equal(t, "User not found", Message(NewNotFound("User not found")))
	assert.Equal(t, "Random server error", Message(NewInjectedFault("Random server error")))
	assert.Equal(t, "Request timeout", Message(context.DeadlineExceeded))
}
