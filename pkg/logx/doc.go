// Package logx configures the pipeline tools' structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller), on stderr so
//     job stdout/stderr capture is never polluted
//   - File output JSON-structured
package logx
