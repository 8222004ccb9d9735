package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/riskguard/pkg/constants"
)

type sampleRequest struct {
	UserID        string `validate:"required,max=128"`
	OperationType string `validate:"required,optype"`
	IPAddress     string `validate:"optip"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid request passes", func(t *testing.T) {
		assert.Nil(t, ValidateStruct(&sampleRequest{UserID: "u1", OperationType: "login", IPAddress: "10.0.0.1"}))
	})

	t.Run("empty ip is allowed", func(t *testing.T) {
		assert.Nil(t, ValidateStruct(&sampleRequest{UserID: "u1", OperationType: "payment.transfer"}))
	})

	t.Run("invalid fields are reported", func(t *testing.T) {
		err := ValidateStruct(&sampleRequest{OperationType: "Login!", IPAddress: "not-an-ip"})
		require.NotNil(t, err)
		assert.Equal(t, constants.ErrCodeInvalidRequest, err.Code())
		assert.Equal(t, "is required", err.Metadata()["user_id"])
		assert.Equal(t, "must match [a-z0-9_.-]{1,64}", err.Metadata()["operation_type"])
		assert.Equal(t, "must be a valid IP address", err.Metadata()["ip_address"])
	})
}

func TestToSnakeCase(t *testing.T) {
	assert.Equal(t, "user_id", toSnakeCase("UserID"))
	assert.Equal(t, "ip_address", toSnakeCase("IPAddress"))
	assert.Equal(t, "operation_type", toSnakeCase("OperationType"))
}
