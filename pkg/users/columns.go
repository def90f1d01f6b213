package users

import "github.com/pnocera/accounts/pkg/datatable"

// UserColumns lists the fields the user listing filters and sorts on
var UserColumns = datatable.Columns{
	"id":         {Expr: "users.id", Kind: datatable.KindNumber},
	"name":       {Expr: "users.name", Kind: datatable.KindString},
	"email":      {Expr: "users.email", Kind: datatable.KindString},
	"username":   {Expr: "users.username", Kind: datatable.KindString},
	"otpEnabled": {Expr: "users.otp_enabled", Kind: datatable.KindBool},
	"active":     {Expr: "users.active", Kind: datatable.KindBool},
	"createdAt":  {Expr: "users.created_at", Kind: datatable.KindTime},
}

// Table aliases of the history listing joins
const (
	targetAlias   = "target_user"
	operatorAlias = "operator_user"
)

// HistoryColumns lists the fields the history listing filters and sorts on
var HistoryColumns = datatable.Columns{
	"user.name":     {Expr: targetAlias + ".name", Kind: datatable.KindString},
	"event":         {Expr: "user_histories.event", Kind: datatable.KindString},
	"operator.name": {Expr: operatorAlias + ".name", Kind: datatable.KindString},
	"createdAt":     {Expr: "user_histories.created_at", Kind: datatable.KindTime},
}
