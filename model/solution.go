package model

// Operations holds the weekly second-stage plan of one scenario.
type Operations struct {
	SupplierProd      []float64 `json:"supplier_prod"`
	PlantProd         []float64 `json:"plant_prod"`
	DCTransfer        []float64 `json:"dc_transfer"`
	WIP               []float64 `json:"wip"`
	FGToDC            []float64 `json:"fg_to_dc"`
	FGToCustomer      []float64 `json:"fg_to_customer"`
	FGStock           []float64 `json:"fg_stock"`
	LostSales         []float64 `json:"lost_sales"`
	BackupSupplier    []float64 `json:"backup_supplier"`
	BackupPlant       []float64 `json:"backup_plant"`
	BackupDC          []float64 `json:"backup_dc"`
	BackupWIPStock    []float64 `json:"backup_wip_stock"`
	BackupFGStock     []float64 `json:"backup_fg_stock"`
	BackupWIPTransfer []float64 `json:"backup_wip_transfer"`
	BackupFGTransfer  []float64 `json:"backup_fg_transfer"`
}

// NewOperations allocates zeroed series for a horizon of weeks.
func NewOperations(weeks int) Operations {
	series := func() []float64 { return make([]float64, weeks) }
	return Operations{
		SupplierProd:      series(),
		PlantProd:         series(),
		DCTransfer:        series(),
		WIP:               series(),
		FGToDC:            series(),
		FGToCustomer:      series(),
		FGStock:           series(),
		LostSales:         series(),
		BackupSupplier:    series(),
		BackupPlant:       series(),
		BackupDC:          series(),
		BackupWIPStock:    series(),
		BackupFGStock:     series(),
		BackupWIPTransfer: series(),
		BackupFGTransfer:  series(),
	}
}

// Backup returns the backup production series of f.
func (o Operations) Backup(f Facility) []float64 {
	switch f {
	case Supplier:
		return o.BackupSupplier
	case Plant:
		return o.BackupPlant
	default:
		return o.BackupDC
	}
}

// TotalLostSales sums unmet demand over the horizon.
func (o Operations) TotalLostSales() float64 {
	var total float64
	for _, v := range o.LostSales {
		total += v
	}
	return total
}

// Solution is the reported outcome of a design run.
type Solution struct {
	Operations

	InvCarryCost  float64          `json:"inv_carry_cost"`
	LostSalesCost float64          `json:"lost_sales_cost"`
	IFRShortfall  float64          `json:"ifr_shortfall"`
	FacBackupCost float64          `json:"fac_backup_cost"`
	TotalCost     float64          `json:"total_cost"`
	Policy        PolicyParameters `json:"policy"`
	Status        string           `json:"status"`
	Converged     bool             `json:"converged"`
}
