package sitechat

// Version is set at build time with -ldflags "-X github.com/a-h/sitechat.Version=...".
var Version = "dev"
