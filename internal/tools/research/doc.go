// Package research provides web research for the agents: a DuckDuckGo
// searcher, page fetchers (plain HTTP and headless browser via Rod), a
// fetch cache, the concurrent multi-query SearchTool, and the tool
// definitions registered with the tool registry.
//
// Tools:
//   - web_search: run one or more queries, fetch the top pages, optionally
//     ingest them into the knowledge base
//   - web_fetch: fetch one URL as text
//   - knowledge_query: semantic lookup in the knowledge base
package research
