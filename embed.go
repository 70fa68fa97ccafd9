package mindcareweb

import "embed"

// StaticFS contains the embedded assets of the chat widget page: markup,
// styles and the browser-side streaming script.
//
//go:embed static/*
var StaticFS embed.FS
