// Package mcp exposes tools served by Model Context Protocol servers
// through the tools.Tool interface.
package mcp

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"github.com/m4xw311/conductor/config"
	"github.com/m4xw311/conductor/errors"
	"github.com/m4xw311/conductor/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// caller is the part of a client session a Tool needs.
type caller interface {
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
}

// Client manages the connection to a single MCP server subprocess.
type Client struct {
	Name  string
	cmd   *exec.Cmd
	conn  *mcpsdk.ClientSession
	tools map[string]*Tool
	log   logr.Logger
}

// Connect starts the server subprocess and discovers its tools.
func Connect(ctx context.Context, server config.MCPServer, log logr.Logger) (*Client, error) {
	log = log.WithName("mcp").WithValues("server", server.Name)
	cmd := exec.Command(server.Command, server.Args...)
	cmd.Stderr = os.Stderr
	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "conductor", Version: "v1.0.0"}, nil)
	conn, err := sdkClient.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", server.Name)
	}
	c := &Client{
		Name:  server.Name,
		cmd:   cmd,
		conn:  conn,
		tools: make(map[string]*Tool),
		log:   log,
	}

	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			_ = c.Close()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", server.Name)
		}
		for _, t := range list.Tools {
			c.tools[t.Name] = newTool(server.Name, t, conn)
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	log.Info("initialized MCP client", "tools", len(c.tools))
	return c, nil
}

// Tools returns the server's tools sorted by name.
func (c *Client) Tools() []*Tool {
	out := make([]*Tool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Close ends the session and terminates the subprocess.
func (c *Client) Close() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		c.log.Info("terminating MCP server")
		return c.cmd.Process.Kill()
	}
	return nil
}

// RegisterAll connects to every configured server and registers its tools.
// A server that fails to start is skipped; the failures are returned
// together with the clients that did connect.
func RegisterAll(ctx context.Context, registry *tools.Registry, servers []config.MCPServer, log logr.Logger) ([]*Client, error) {
	var clients []*Client
	var result *multierror.Error
	for _, server := range servers {
		c, err := Connect(ctx, server, log)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		for _, t := range c.Tools() {
			registry.Register(t)
		}
		clients = append(clients, c)
	}
	return clients, result.ErrorOrNil()
}

// Tool represents a tool available from an external MCP server.
type Tool struct {
	serverName  string
	toolName    string
	description string
	parameters  map[string]any
	conn        caller
}

func newTool(server string, t *mcpsdk.Tool, conn caller) *Tool {
	return &Tool{
		serverName:  server,
		toolName:    t.Name,
		description: t.Description,
		parameters:  schemaMap(t.InputSchema),
		conn:        conn,
	}
}

// Name is the server's own tool name; qualified names are rejected by some
// providers.
func (t *Tool) Name() string { return t.toolName }

func (t *Tool) Description() string { return t.description }

func (t *Tool) Parameters() map[string]any { return t.parameters }

// Server names the MCP server providing the tool.
func (t *Tool) Server() string { return t.serverName }

// Execute calls the tool on its server and concatenates the text content.
func (t *Tool) Execute(ctx context.Context, args map[string]any) (string, error) {
	result, err := t.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s'", t.Name())
	}
	var b strings.Builder
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			b.WriteString(text.Text)
		}
	}
	if result.IsError {
		return "", tools.Failure("Error: " + b.String())
	}
	return b.String(), nil
}

// schemaMap converts an SDK schema into the plain map sent to providers.
func schemaMap(schema any) map[string]any {
	out := map[string]any{}
	if data, err := json.Marshal(schema); err == nil {
		_ = json.Unmarshal(data, &out)
	}
	if out == nil {
		out = map[string]any{}
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}
