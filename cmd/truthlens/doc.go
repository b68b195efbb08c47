// Command truthlens analyzes videos for signs of synthetic or manipulated
// media.
//
//	truthlens analyze clip.mp4            run every engine and print the fused verdict
//	truthlens analyze --mode cloud x.mp4  run one engine
//	truthlens serve                       serve the HTTP API
//	truthlens status                      check dependencies and remote services
//	truthlens logs --request <id> -f      follow log entries for one upload
//	truthlens config init                 write a sample configuration
//
// Configuration is read from --config, ~/.config/truthlens/config.toml or
// ./truthlens.toml, in that order.
package main
