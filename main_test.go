package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mqy/pairchat/model"
)

func TestParseDemoUsers(t *testing.T) {
	assert.Nil(t, parseDemoUsers(""))
	assert.Equal(t, []*model.User{
		{ID: "A", FullName: "Ann Lee"},
		{ID: "B", FullName: "B"},
	}, parseDemoUsers(" A:Ann Lee, ,B,:nobody"))
}

func TestValidateAddr(t *testing.T) {
	assert.NoError(t, validateAddr("127.0.0.1:5001"))
	assert.NoError(t, validateAddr("10.0.0.2:5001"))
	assert.NoError(t, validateAddr(":5001"))
	assert.Error(t, validateAddr("8.8.8.8:5001"))
	assert.Error(t, validateAddr("localhost"))
	assert.Error(t, validateAddr("example.com:80"))
}
