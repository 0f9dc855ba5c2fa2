package model

import "github.com/chazu/sanskrit/codec"

func newWriter() *codec.Writer { return codec.NewWriter(0) }

func newReader(b []byte, depth int) *codec.Reader { return codec.NewReader(b, depth) }
