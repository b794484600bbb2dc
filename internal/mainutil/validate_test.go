package mainutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateNonzeroRejectsEmptyString(t *testing.T) {
	var opts struct {
		Path string `traits:"nz"`
	}
	err := Validate(opts)
	assert.Error(t, err)

	opts.Path = "/tmp/x"
	assert.NoError(t, Validate(opts))
}

func TestValidateGtRejectsNonPositive(t *testing.T) {
	var opts struct {
		Depth int `traits:"gt=0"`
	}
	opts.Depth = 0
	assert.Error(t, Validate(opts))

	opts.Depth = 10
	assert.NoError(t, Validate(opts))
}
