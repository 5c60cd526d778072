package main

import (
	"context"
	"fmt"

	"github.com/a-h/sitechat"
)

type VersionCommand struct {
}

func (c VersionCommand) Run(ctx context.Context) (err error) {
	fmt.Println(sitechat.Version)
	return nil
}
