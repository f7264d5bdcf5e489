package actor_test

import (
	"context"
	"testing"

	"github.com/medflow/medflow-pharmacy/pkg/actor"
	"github.com/stretchr/testify/assert"
)

func TestIDFromContext(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"no actor", context.Background(), actor.SystemID},
		{"user", actor.WithActor(context.Background(), &actor.Actor{ID: "user-9"}), "user-9"},
		{"actor without id", actor.WithActor(context.Background(), &actor.Actor{Email: "a@b.c"}), actor.SystemID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, actor.IDFromContext(tt.ctx))
		})
	}
}

func TestFromContext(t *testing.T) {
	assert.Nil(t, actor.FromContext(context.Background()))

	ctx := actor.WithActor(context.Background(), &actor.Actor{ID: "user-1", Email: "pharmacist@example.com"})
	a := actor.FromContext(ctx)
	if assert.NotNil(t, a) {
		assert.Equal(t, "pharmacist@example.com", a.Email)
	}
}
