package bot

// Minimal webhook payload shapes, carrying only the fields the bot routes
// on. Full payloads are documented at
// https://docs.github.com/webhooks-and-events/webhooks/webhook-events-and-payloads

type actor struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

type repository struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
}

type pullRequestEvent struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Number int `json:"number"`
	} `json:"pull_request"`
	Repository   repository `json:"repository"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
	Sender actor `json:"sender"`
}

type installationEvent struct {
	Action       string `json:"action"`
	Installation struct {
		ID      int64 `json:"id"`
		AppID   int64 `json:"app_id"`
		Account actor `json:"account"`
	} `json:"installation"`
	Sender       actor        `json:"sender"`
	Repositories []repository `json:"repositories"`
}
