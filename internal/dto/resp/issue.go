package resp

import v1 "newsletter/pkg/api/v1"

type ListIssuesResponse struct {
	Data []v1.Issue `json:"data"`
}
