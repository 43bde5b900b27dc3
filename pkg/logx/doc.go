// Package logx is expirybot's structured logger, a thin layer over zerolog.
//
// Console output is human readable with a short file:line caller, the file
// sink writes JSON lines, and the optional alert sink forwards WARN+ lines to
// an operator phone through the messaging gateway. Config changes are applied
// with Service.Apply; loggers derived from the service follow them.
package logx
