package gateway

// transactionsQuery pages through tagged transactions in the gateway's
// search index.
const transactionsQuery = `query Transactions($tags: [TagFilter!], $owners: [String!], $block: BlockFilter, $sort: SortOrder, $first: Int, $after: String) {
  transactions(tags: $tags, owners: $owners, block: $block, sort: $sort, first: $first, after: $after) {
    pageInfo { hasNextPage }
    edges {
      cursor
      node {
        id
        owner { address }
        tags { name value }
        block { height }
      }
    }
  }
}`

const (
	sortHeightAsc  = "HEIGHT_ASC"
	sortHeightDesc = "HEIGHT_DESC"

	// maxPageSize is the largest page the gateway serves.
	maxPageSize = 100
)

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type tagFilter struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

type blockFilter struct {
	Min *uint64 `json:"min,omitempty"`
	Max *uint64 `json:"max,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type transactionsResponse struct {
	Data struct {
		Transactions struct {
			PageInfo struct {
				HasNextPage bool `json:"hasNextPage"`
			} `json:"pageInfo"`
			Edges []struct {
				Cursor string `json:"cursor"`
				Node   struct {
					ID    string `json:"id"`
					Owner struct {
						Address string `json:"address"`
					} `json:"owner"`
					Tags []struct {
						Name  string `json:"name"`
						Value string `json:"value"`
					} `json:"tags"`
					Block *struct {
						Height uint64 `json:"height"`
					} `json:"block"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"transactions"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}
