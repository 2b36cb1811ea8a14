// README: Menu item as resolved at order placement.
package catalog

import "mesa/internal/types"

type Item struct {
	ID        types.ID
	Name      string
	Price     types.Money
	Available bool
}
