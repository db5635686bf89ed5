package req

type SubscribeRequest struct {
	Name  string `json:"name" form:"name" binding:"required"`
	Email string `json:"email" form:"email" binding:"required,email"`
}

type ConfirmRequest struct {
	Token string `form:"subscription_token" binding:"required"`
}
