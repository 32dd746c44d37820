package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, KindSecurity))
}

func TestKindOf(t *testing.T) {
	err := Wrap(errors.New("escape attempt"), KindSecurity)
	assert.Equal(t, KindSecurity, KindOf(err))
	assert.True(t, Is(err, KindSecurity))
	assert.False(t, Is(err, KindTransient))
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := Wrap(errors.New("no transcript"), KindUnresolvable)
	outer := fmt.Errorf("clock-out: %w", inner)

	assert.Equal(t, KindUnresolvable, KindOf(outer))
}

func TestUnclassified(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
